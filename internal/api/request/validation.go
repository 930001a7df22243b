package request

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

var hostnameRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func init() {
	validate.RegisterValidation("node_address", func(fl validator.FieldLevel) bool {
		return IsNodeAddress(fl.Field().String())
	})
}

// IsNodeAddress reports whether s is an IP address or hostname, optionally
// followed by a port. Schemes and paths are rejected.
func IsNodeAddress(s string) bool {
	if s == "" || len(s) > 253+6 {
		return false
	}
	host := s
	if h, port, err := net.SplitHostPort(s); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return false
		}
		host = h
	}
	if net.ParseIP(host) != nil {
		return true
	}
	return len(host) <= 253 && !strings.Contains(host, ":") && hostnameRegex.MatchString(host)
}

// MaxBodyBytes caps the size of a decoded request body.
const MaxBodyBytes = 1 << 20

func Decode(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("missing required ID")
	}
	return s, nil
}

// RequireSerialID parses a database serial ID from a path parameter.
func RequireSerialID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("missing required ID")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}
