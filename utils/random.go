package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// ConfirmationCode is the receipt code handed to a buyer, e.g. "TK-9F2A61C0".
func ConfirmationCode() (string, error) {
	code, err := GenerateCode(4)
	if err != nil {
		return "", err
	}
	return "TK-" + code, nil
}
