// Package signer builds the SolisCloud request signature.
//
// The canonical string is METHOD, Content-MD5, Content-Type, Date and path joined
// with newlines, signed with HMAC-SHA1 over the API secret.
package signer

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"
)

const ContentType = "application/json;charset=UTF-8"

var ErrEmptySecret = errors.New("api secret is empty")

type Request struct {
	Method      string
	Body        []byte
	ContentType string
	Date        string
	Path        string
}

type Signature struct {
	ContentMD5 string
	Sign       string
}

// Date formats t the way the API expects it in the Date header.
func Date(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

func ContentMD5(body []byte) string {
	sum := md5.Sum(body)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func Sign(req Request, secret string) (Signature, error) {
	if secret == "" {
		return Signature{}, ErrEmptySecret
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = ContentType
	}
	digest := ContentMD5(req.Body)
	canonical := strings.Join([]string{
		strings.ToUpper(req.Method),
		digest,
		contentType,
		req.Date,
		req.Path,
	}, "\n")
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(canonical))
	return Signature{
		ContentMD5: digest,
		Sign:       base64.StdEncoding.EncodeToString(mac.Sum(nil)),
	}, nil
}

// Authorization renders the Authorization header value.
func (s Signature) Authorization(apiKey string) string {
	return "API " + apiKey + ":" + s.Sign
}
