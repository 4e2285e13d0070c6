package session

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/commandquery/zkshare"
	"github.com/commandquery/zkshare/rendezvous"
	"github.com/commandquery/zkshare/token"
)

const viewPath = "/public/view/"

// Link is a generated link-mode share.
type Link struct {
	URL       string
	ShareID   string
	ExpiresAt time.Time
}

// BuildLink formats https://<host>/public/view/<shareID>?exp=<epochMillis>#key=<key>.
// The key is only ever placed in the fragment, which browsers and HTTP clients
// do not send to the server.
func BuildLink(baseURL, shareID string, expiresAt time.Time, key token.Key) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q: scheme and host are required", baseURL)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + viewPath + shareID
	u.RawQuery = url.Values{"exp": {strconv.FormatInt(expiresAt.UnixMilli(), 10)}}.Encode()
	u.Fragment = ""

	return u.String() + "#key=" + token.ExportKey(key), nil
}

// ParsedLink is what a receiver learns from a share link.
type ParsedLink struct {
	ShareID   string
	ExpiresAt time.Time
	Key       token.Key
}

// ParseLink extracts the share ID, expiry and key from a link. A malformed link
// is ErrInvalidToken; a missing or malformed key is ErrInvalidKeyFormat.
func ParseLink(raw string) (*ParsedLink, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zkshare.ErrInvalidToken, err)
	}

	idx := strings.LastIndex(u.Path, viewPath)
	if idx < 0 {
		return nil, fmt.Errorf("%w: not a share link", zkshare.ErrInvalidToken)
	}

	shareID := u.Path[idx+len(viewPath):]
	if shareID == "" || !rendezvous.ValidChannelName(rendezvous.PublicChannelName(shareID)) {
		return nil, fmt.Errorf("%w: bad share id", zkshare.ErrInvalidToken)
	}

	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry", zkshare.ErrInvalidToken)
	}

	fragment, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", zkshare.ErrInvalidKeyFormat, err)
	}

	encoded := fragment.Get("key")
	if encoded == "" {
		return nil, fmt.Errorf("%w: link has no key", zkshare.ErrInvalidKeyFormat)
	}

	key, err := token.ImportKey(encoded)
	if err != nil {
		return nil, err
	}

	return &ParsedLink{
		ShareID:   shareID,
		ExpiresAt: time.UnixMilli(exp),
		Key:       key,
	}, nil
}
