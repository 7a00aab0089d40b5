package util

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ContentHashHeader carries "sha256-<hex>" of the latest release binary.
const ContentHashHeader = "X-Content-Hash"

// UpdateStatus is the outcome of one update check.
type UpdateStatus struct {
	Available  bool   `json:"available"`
	LocalHash  string `json:"local_hash"`
	RemoteHash string `json:"remote_hash"`
}

// Updater compares the running executable with the hash advertised by the
// update server.
type Updater struct {
	url        string
	executable string
	client     *http.Client
	logger     zerolog.Logger
}

// NewUpdater creates an updater for url. An empty executable means the
// running binary.
func NewUpdater(url, executable string) *Updater {
	return &Updater{
		url:        url,
		executable: executable,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     ComponentLogger("updater"),
	}
}

// CheckForUpdate issues a HEAD request and compares hashes. A missing or
// malformed header is reported as no update.
func (u *Updater) CheckForUpdate(ctx context.Context) (UpdateStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u.url, nil)
	if err != nil {
		return UpdateStatus{}, fmt.Errorf("failed to build update request: %w", err)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return UpdateStatus{}, fmt.Errorf("failed to reach update server: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode >= 400 {
		return UpdateStatus{}, fmt.Errorf("update server returned %s", resp.Status)
	}

	remote, ok := parseContentHash(resp.Header.Get(ContentHashHeader))
	if !ok {
		u.logger.Debug().Str("header", resp.Header.Get(ContentHashHeader)).Msg("no usable content hash")
		return UpdateStatus{}, nil
	}

	local, err := u.localHash()
	if err != nil {
		return UpdateStatus{}, err
	}

	status := UpdateStatus{
		Available:  local != remote,
		LocalHash:  local,
		RemoteHash: remote,
	}
	u.logger.Debug().
		Bool("available", status.Available).
		Str("local", local).
		Str("remote", remote).
		Msg("update check completed")
	return status, nil
}

func (u *Updater) localHash() (string, error) {
	path := u.executable
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("failed to locate executable: %w", err)
		}
		path = exe
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open executable: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash executable: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func parseContentHash(v string) (string, bool) {
	hexPart, ok := strings.CutPrefix(strings.TrimSpace(v), "sha256-")
	if !ok {
		return "", false
	}
	hexPart = strings.ToLower(hexPart)
	if b, err := hex.DecodeString(hexPart); err != nil || len(b) != sha256.Size {
		return "", false
	}
	return hexPart, true
}
