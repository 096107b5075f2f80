package lifecycle

import (
	"crypto/rand"
	"strings"
)

const (
	// 32 symbols without 0/O and 1/I so codes survive being read aloud; 256 % 32 == 0 keeps it unbiased.
	codeAlphabet    = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength      = 6
	maxCodeAttempts = 10
)

// CodeGenerator produces candidate join codes. Uniqueness is checked by the service.
type CodeGenerator interface {
	Generate() (string, error)
}

type RandomCodes struct{}

func (RandomCodes) Generate() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b), nil
}

func NormalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
