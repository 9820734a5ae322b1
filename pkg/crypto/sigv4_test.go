package crypto

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLookup(secrets map[string]string) SigningKey {
	return func(accessKeyID string) (string, bool) {
		s, ok := secrets[accessKeyID]
		return s, ok
	}
}

func signHeaderRequest(t *testing.T, secret string, req SignedRequest, signedHeaders []string, date, region, amzDate string) string {
	t.Helper()
	sig, err := computeSignature(secret, date, region, req, signedHeaders, amzDate)
	require.NoError(t, err)
	return sig
}

func TestVerifyHeaderAuthRoundTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	amzDate := now.Format(amzDateFormat)
	date := now.Format(dateFormat)
	region := "us-east-1"

	hdr := http.Header{}
	hdr.Set("Host", "s3.example.com")
	hdr.Set("X-Amz-Date", amzDate)
	hdr.Set("X-Amz-Content-Sha256", "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")

	req := SignedRequest{
		Method: http.MethodGet,
		Path:   "/mybucket/mykey",
		Query:  url.Values{},
		Header: hdr,
		Now:    now,
	}

	signedHeaders := []string{"host", "x-amz-date", "x-amz-content-sha256"}
	sig := signHeaderRequest(t, "secretkey", req, signedHeaders, date, region, amzDate)

	hdr.Set("Authorization", "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"+date+"/"+region+"/s3/aws4_request, SignedHeaders=host;x-amz-date;x-amz-content-sha256, Signature="+sig)

	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey"})
	accessKey, err := VerifyHeaderAuth(req, lookup)
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", accessKey)
}

func TestVerifyHeaderAuthRejectsWrongSecret(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	amzDate := now.Format(amzDateFormat)
	date := now.Format(dateFormat)
	region := "us-east-1"

	hdr := http.Header{}
	hdr.Set("Host", "s3.example.com")
	hdr.Set("X-Amz-Date", amzDate)

	req := SignedRequest{
		Method: http.MethodGet,
		Path:   "/mybucket/mykey",
		Query:  url.Values{},
		Header: hdr,
		Now:    now,
	}
	signedHeaders := []string{"host", "x-amz-date"}
	sig := signHeaderRequest(t, "secretkey", req, signedHeaders, date, region, amzDate)
	hdr.Set("Authorization", "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"+date+"/"+region+"/s3/aws4_request, SignedHeaders=host;x-amz-date, Signature="+sig)

	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "wrong-secret"})
	_, err := VerifyHeaderAuth(req, lookup)
	assert.Error(t, err)
}

func TestVerifyPresignedAuthExpiry(t *testing.T) {
	signedAt := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	amzDate := signedAt.Format(amzDateFormat)
	date := signedAt.Format(dateFormat)
	region := "us-east-1"

	q := url.Values{}
	q.Set("X-Amz-Algorithm", sigV4Algorithm)
	q.Set("X-Amz-Credential", "AKIDEXAMPLE/"+date+"/"+region+"/s3/aws4_request")
	q.Set("X-Amz-Date", amzDate)
	q.Set("X-Amz-Expires", "60")
	q.Set("X-Amz-SignedHeaders", "host")

	hdr := http.Header{}
	hdr.Set("Host", "s3.example.com")

	req := SignedRequest{
		Method: http.MethodGet,
		Path:   "/mybucket/mykey",
		Query:  q,
		Header: hdr,
	}

	sig, err := computeSignatureForQuery("secretkey", date, region, req, []string{"host"}, amzDate, q, true)
	require.NoError(t, err)
	q.Set("X-Amz-Signature", sig)
	req.Query = q

	lookup := testLookup(map[string]string{"AKIDEXAMPLE": "secretkey"})

	req.Now = signedAt.Add(30 * time.Second)
	_, err = VerifyPresignedAuth(req, lookup)
	assert.NoError(t, err)

	req.Now = signedAt.Add(5 * time.Minute)
	_, err = VerifyPresignedAuth(req, lookup)
	assert.Error(t, err)
}
