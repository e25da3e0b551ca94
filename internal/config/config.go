package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/die-net/sockschain/internal/dialer"
)

// File is a parsed chain file.
type File struct {
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
	IdleTimeout        time.Duration `yaml:"idle_timeout"`

	Proxies []Hop `yaml:"proxies"`
}

// Hop is one proxy in the chain. User and Password, when set, replace any
// userinfo in URL.
type Hop struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Load reads and parses the chain file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a chain file. Unknown keys are rejected, and every hop
// must be a valid SOCKS proxy URL.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if f.DialTimeout < 0 || f.NegotiationTimeout < 0 || f.IdleTimeout < 0 {
		return nil, errors.New("parse config: negative timeout")
	}

	if _, err := f.Upstreams(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Upstreams returns the hops as proxy URLs with credentials folded in, in
// the form dialer.New accepts.
func (f *File) Upstreams() ([]string, error) {
	out := make([]string, 0, len(f.Proxies))
	for i, h := range f.Proxies {
		s, err := h.upstream()
		if err != nil {
			return nil, fmt.Errorf("proxies[%d]: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func (h Hop) upstream() (string, error) {
	if h.URL == "" {
		return "", errors.New("missing url")
	}
	u, err := url.Parse(h.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	switch {
	case h.Password != "":
		u.User = url.UserPassword(h.User, h.Password)
	case h.User != "":
		u.User = url.User(h.User)
	}

	s := u.String()
	if _, err := dialer.ParseProxyURL(s); err != nil {
		return "", err
	}
	return s, nil
}

// Apply copies the file's non-zero timeouts over cfg.
func (f *File) Apply(cfg *dialer.Config) {
	if f.DialTimeout > 0 {
		cfg.DialTimeout = f.DialTimeout
	}
	if f.NegotiationTimeout > 0 {
		cfg.NegotiationTimeout = f.NegotiationTimeout
	}
}
