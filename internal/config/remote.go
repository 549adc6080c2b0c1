package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/nholik/connectivity-sentinel/internal/vendor"
)

const defaultMaxServicesBytes int64 = 1 << 20

// ServicesSource is the outcome of loading service definitions.
type ServicesSource struct {
	Definitions []vendor.Definition
	// Fingerprint is the SHA-256 of the raw document, empty when nothing was loaded.
	Fingerprint string
}

// LoadServices reads definitions from a local path or an http(s) URL.
// An empty location yields no definitions.
func LoadServices(ctx context.Context, location string, timeout time.Duration) (ServicesSource, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return ServicesSource{}, nil
	}

	if !isRemote(location) {
		defs, err := LoadServicesFile(location)
		if err != nil {
			return ServicesSource{}, err
		}
		return ServicesSource{Definitions: defs}, nil
	}

	body, err := fetchServices(ctx, location, timeout, defaultMaxServicesBytes)
	if err != nil {
		return ServicesSource{}, err
	}
	defs, err := ParseServices(body)
	if err != nil {
		return ServicesSource{}, err
	}
	return ServicesSource{Definitions: defs, Fingerprint: Fingerprint(body)}, nil
}

// Fingerprint computes a SHA-256 hash for a services document.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func isRemote(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func fetchServices(ctx context.Context, location string, timeout time.Duration, maxBytes int64) ([]byte, error) {
	if err := validateURL(location, envServicesFile); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be greater than zero")
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/yaml, text/yaml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch services file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch services file: unexpected status: %s", resp.Status)
	}

	limited := io.LimitReader(resp.Body, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("services file exceeds %d bytes", maxBytes)
	}
	if len(body) == 0 {
		return nil, errors.New("services file is empty")
	}
	return body, nil
}
