package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// OperatorCode derives the rotating privileged access code from a shared TOTP
// secret. The secret is distributed out-of-band; nothing here provisions it.
type OperatorCode struct {
	secret string
	period uint
	skew   uint
}

// NewOperatorCode validates secret and returns an OperatorCode accepting the
// current step plus skew steps either side
func NewOperatorCode(secret string, skew uint) (*OperatorCode, error) {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	if secret == "" {
		return nil, fmt.Errorf("invalid operator totp secret: empty")
	}
	oc := &OperatorCode{secret: secret, period: 30, skew: skew}

	if _, err := oc.generate(time.Now()); err != nil {
		return nil, fmt.Errorf("invalid operator totp secret: %w", err)
	}
	return oc, nil
}

// Candidates returns every code that is currently acceptable. The slice length
// depends only on the configured skew, never on the presented value.
func (oc *OperatorCode) Candidates(now time.Time) []string {
	codes := make([]string, 0, 2*oc.skew+1)
	step := time.Duration(oc.period) * time.Second

	for i := -int(oc.skew); i <= int(oc.skew); i++ {
		code, err := oc.generate(now.Add(time.Duration(i) * step))
		if err != nil {
			continue
		}
		codes = append(codes, code)
	}
	return codes
}

func (oc *OperatorCode) generate(t time.Time) (string, error) {
	return totp.GenerateCodeCustom(oc.secret, t, totp.ValidateOpts{
		Period:    oc.period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
