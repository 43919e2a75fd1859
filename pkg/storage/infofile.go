package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZentaChain/relaytalk/pkg/crypto"
	"github.com/ZentaChain/relaytalk/pkg/protocol"
	"github.com/ZentaChain/relaytalk/pkg/session"
)

var ErrMalformedInfo = errors.New("malformed identity file")

const infoLinesPerRecord = 4

// InfoFile is the line-based identity file (my.info). Each record is four
// lines: username, assigned id, base64 private key, base64 public key.
type InfoFile struct {
	path string
}

// NewInfoFile returns an InfoFile at path. The file is created on first save.
func NewInfoFile(path string) *InfoFile {
	return &InfoFile{path: path}
}

// Path returns the file location
func (f *InfoFile) Path() string { return f.path }

// SaveIdentity writes rec as the first record, keeping any other records
func (f *InfoFile) SaveIdentity(rec session.IdentityRecord) error {
	records, err := f.LoadAll()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	kept := []session.IdentityRecord{rec}
	for _, r := range records {
		if r.Username != rec.Username {
			kept = append(kept, r)
		}
	}

	var b strings.Builder
	for _, r := range kept {
		fmt.Fprintf(&b, "%s\n%s\n%s\n%s\n",
			r.Username,
			r.ID.String(),
			crypto.EncodeBlob(r.PrivateKey),
			crypto.EncodeBlob(r.PublicKey))
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// Load returns the first record, the local identity
func (f *InfoFile) Load() (session.IdentityRecord, error) {
	records, err := f.LoadAll()
	if err != nil {
		return session.IdentityRecord{}, err
	}
	if len(records) == 0 {
		return session.IdentityRecord{}, fmt.Errorf("%w: no records in %s", ErrMalformedInfo, f.path)
	}
	return records[0], nil
}

// LoadAll parses every record in the file
func (f *InfoFile) LoadAll() ([]session.IdentityRecord, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" && len(lines)%infoLinesPerRecord == 0 {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(lines)%infoLinesPerRecord != 0 {
		return nil, fmt.Errorf("%w: %d lines, want a multiple of %d", ErrMalformedInfo, len(lines), infoLinesPerRecord)
	}

	records := make([]session.IdentityRecord, 0, len(lines)/infoLinesPerRecord)
	for i := 0; i < len(lines); i += infoLinesPerRecord {
		rec, err := parseInfoRecord(lines[i : i+infoLinesPerRecord])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i/infoLinesPerRecord, err)
		}
		records = append(records, rec)
	}

	return records, nil
}

// LookupID resolves a username through the records in the file
func (f *InfoFile) LookupID(username string) (protocol.ClientID, bool, error) {
	records, err := f.LoadAll()
	if errors.Is(err, os.ErrNotExist) {
		return protocol.ClientID{}, false, nil
	}
	if err != nil {
		return protocol.ClientID{}, false, err
	}

	for _, r := range records {
		if r.Username == username {
			return r.ID, true, nil
		}
	}
	return protocol.ClientID{}, false, nil
}

func parseInfoRecord(lines []string) (session.IdentityRecord, error) {
	var rec session.IdentityRecord

	rec.Username = lines[0]
	if rec.Username == "" {
		return rec, fmt.Errorf("%w: empty username", ErrMalformedInfo)
	}

	id, err := protocol.ParseClientID(lines[1])
	if err != nil {
		return rec, fmt.Errorf("%w: %v", ErrMalformedInfo, err)
	}
	rec.ID = id

	if rec.PrivateKey, err = crypto.DecodeBlob(strings.TrimSpace(lines[2])); err != nil {
		return rec, fmt.Errorf("%w: private key: %v", ErrMalformedInfo, err)
	}
	if rec.PublicKey, err = crypto.DecodeBlob(strings.TrimSpace(lines[3])); err != nil {
		return rec, fmt.Errorf("%w: public key: %v", ErrMalformedInfo, err)
	}

	return rec, nil
}
