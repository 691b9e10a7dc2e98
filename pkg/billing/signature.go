package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/dealflow/pkg/apperrors"
)

// SignatureHeaderName is the request header carrying the webhook signature
const SignatureHeaderName = "Stripe-Signature"

var (
	errNoTimestamp   = errors.New("signature header has no timestamp")
	errNoSignatures  = errors.New("signature header has no v1 signatures")
	errTooOld        = errors.New("signature timestamp outside tolerance")
	errNoMatch       = errors.New("no signature matches the payload")
	errMissingSecret = errors.New("webhook secret is not configured")
)

// VerifySignature checks a "t=<unix>,v1=<hex>[,v1=<hex>...]" header against
// an HMAC-SHA256 of "<t>.<payload>". A zero tolerance disables the timestamp
// check. Every failure is a SignatureInvalid error.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return apperrors.SignatureInvalid(errMissingSecret)
	}

	var (
		timestamp  int64
		haveTime   bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return apperrors.SignatureInvalid(fmt.Errorf("invalid timestamp: %w", err))
			}
			timestamp, haveTime = ts, true
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTime {
		return apperrors.SignatureInvalid(errNoTimestamp)
	}
	if len(signatures) == 0 {
		return apperrors.SignatureInvalid(errNoSignatures)
	}

	if tolerance > 0 {
		age := now.Sub(time.Unix(timestamp, 0))
		if age > tolerance || age < -tolerance {
			return apperrors.SignatureInvalid(errTooOld)
		}
	}

	expected := computeSignature(payload, secret, timestamp)
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return apperrors.SignatureInvalid(errNoMatch)
}

// SignatureHeader builds the header value the provider would send for payload
func SignatureHeader(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(payload, secret, ts)))
}

func computeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
