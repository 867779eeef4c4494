package pairing

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/appium/go-ios-remotexpc/internal/plist"
)

// Record is the persisted long-term pairing identity (spec.md §3 "PairRecord").
type Record struct {
	HostPublicKey        ed25519.PublicKey
	HostPrivateKey       ed25519.PrivateKey
	RemoteUnlockHostKey  string
}

// Store persists and loads Records keyed by device identifier. It is
// modeled as a capability interface (spec.md §9) so the core has no
// dependency on a particular filesystem layout during tests.
type Store interface {
	Save(identifier string, rec Record) (path string, err error)
	Load(identifier string) (Record, error)
}

// FileStore persists records as XML plist files at
// <dir>/remote_<identifier>.plist (spec.md §6).
//
// Pair records are single-writer per device identifier (spec.md §5):
// callers must not call Save concurrently for the same identifier.
type FileStore struct {
	Dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if absent.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("pairing: create pairing dir: %w", err)
	}
	return &FileStore{Dir: dir}, nil
}

func (s *FileStore) pathFor(identifier string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("remote_%s.plist", identifier))
}

// Save writes rec as an XML plist, overwriting any prior record for the
// same identifier (spec.md §3: "rewritten on re-pair").
func (s *FileStore) Save(identifier string, rec Record) (string, error) {
	dict := plist.NewDict()
	dict.Set("public_key", plist.Data(rec.HostPublicKey))
	dict.Set("private_key", plist.Data(rec.HostPrivateKey))
	dict.Set("remote_unlock_host_key", plist.String(rec.RemoteUnlockHostKey))

	body, err := plist.EmitXML(dict)
	if err != nil {
		return "", newErrorWrap(CodeSaveError, "encode pair record", err)
	}

	path := s.pathFor(identifier)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return "", newErrorWrap(CodeSaveError, "write pair record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", newErrorWrap(CodeSaveError, "rename pair record into place", err)
	}
	return path, nil
}

// Load reads the record for identifier.
func (s *FileStore) Load(identifier string) (Record, error) {
	path := s.pathFor(identifier)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, newError(CodeNoPairingData, fmt.Sprintf("no pair record for %s", identifier))
		}
		return Record{}, newErrorWrap(CodeNoPairingData, "read pair record", err)
	}
	v, _, err := plist.ParseXML(data)
	if err != nil {
		return Record{}, newErrorWrap(CodeNoPairingData, "parse pair record", err)
	}

	pub, _ := v.Get("public_key")
	priv, _ := v.Get("private_key")
	unlock, _ := v.Get("remote_unlock_host_key")

	return Record{
		HostPublicKey:       ed25519.PublicKey(pub.Data),
		HostPrivateKey:      ed25519.PrivateKey(priv.Data),
		RemoteUnlockHostKey: unlock.String,
	}, nil
}

func newErrorWrap(code Code, message string, err error) *Error {
	e := newError(code, message)
	e.Err = err
	return e
}
