// Package volume implements the execution-volume filesystem contract and the
// translation between execution-volume paths and cloud storage URIs. The
// contract is identical across all compute backends: every executor sees the
// same three-tier namespace regardless of where it runs.
package volume

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Three-tier execution volume namespace.
const (
	// Root is backend-private scratch space; it may be visible to only one
	// executor and is never staged to cloud storage.
	Root = "/tes-wd"

	// Shared is a per-task volume visible to all executors of that task.
	Shared = Root + "/shared"

	// SharedGlobal is a single volume mounted into every task on the
	// service. Cross-task visibility is a deliberate trust tradeoff.
	SharedGlobal = Root + "/shared-global"
)

const defaultTokenTTL = time.Hour

// Allowed reports whether path sits inside the execution-volume namespace.
// Inputs and outputs outside it are rejected at submission.
func Allowed(path string) bool {
	return path == Root || strings.HasPrefix(path, Root+"/")
}

// Mapped reports whether path falls under a prefix the mapper rewrites to
// cloud storage. Backend-private paths under Root are allowed but unmapped.
func Mapped(path string) bool {
	return path == Shared || strings.HasPrefix(path, Shared+"/") ||
		path == SharedGlobal || strings.HasPrefix(path, SharedGlobal+"/")
}

// Mapper rewrites execution-volume paths under the shared prefixes into
// URIs on a single configured storage container, appending a time-bounded
// access token so the file-transfer helper can read and write without
// account credentials.
type Mapper struct {
	account   string
	container string
	key       []byte
	tokenTTL  time.Duration

	// now is a test seam for token expiry.
	now func() time.Time
}

// NewMapper creates a mapper for the given storage account and container.
// The key signs access tokens; ttl bounds token validity (defaulted when
// non-positive).
func NewMapper(account, container, key string, ttl time.Duration) *Mapper {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &Mapper{
		account:   account,
		container: container,
		key:       []byte(key),
		tokenTTL:  ttl,
		now:       time.Now,
	}
}

// Container returns the configured storage container name.
func (m *Mapper) Container() string {
	return m.container
}

// host returns the storage endpoint host for the configured account.
func (m *Mapper) host() string {
	return m.account + ".blob.core.windows.net"
}

// ToStorageURI rewrites a mapped execution-volume path into a storage URI
// with a time-bounded access token. Paths outside the mapped prefixes are
// returned unchanged; staging for those is the client's responsibility.
func (m *Mapper) ToStorageURI(path string) string {
	if !Mapped(path) {
		return path
	}

	// /tes-wd/shared/foo -> shared/foo inside the container.
	blob := strings.TrimPrefix(strings.TrimPrefix(path, Root), "/")
	expiry := m.now().Add(m.tokenTTL).UTC().Format(time.RFC3339)

	u := url.URL{
		Scheme:   "https",
		Host:     m.host(),
		Path:     "/" + m.container + "/" + blob,
		RawQuery: url.Values{"se": {expiry}, "sig": {m.sign(blob, expiry)}}.Encode(),
	}
	return u.String()
}

// FromStorageURI is the exact inverse of ToStorageURI for URIs on the
// configured account and container. Any other URI is returned unchanged.
func (m *Mapper) FromStorageURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	if u.Scheme != "https" || u.Host != m.host() {
		return uri
	}

	blob, ok := strings.CutPrefix(u.Path, "/"+m.container+"/")
	if !ok {
		return uri
	}
	return Root + "/" + blob
}

// sign produces the access-token signature over the blob path and expiry.
func (m *Mapper) sign(blob, expiry string) string {
	mac := hmac.New(sha256.New, m.key)
	fmt.Fprintf(mac, "%s\n%s\n%s", m.container, blob, expiry)
	return hex.EncodeToString(mac.Sum(nil))
}
