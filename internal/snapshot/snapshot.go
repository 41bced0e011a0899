// Package snapshot stores stock snapshots as gzip-compressed JSON lines.
//
// The first line is a header:
//
//	{"version":1,"taken_at":"2026-03-01T09:00:00Z","products":2}
//
// followed by one line per product, ordered by ID:
//
//	{"id":"p1","stock":9}
package snapshot

import (
	"bufio"
	"io"
	"os"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/pos-checkout/internal/domain/inventory"
)

const formatVersion = 1

var newline = []byte{'\n'}

// maxLine bounds a single line; product IDs are short.
const maxLine = 64 * 1024

// Write encodes snap to w.
func Write(w io.Writer, snap inventory.Snapshot) error {
	gz := pgzip.NewWriter(w)

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("version")
	e.Int(formatVersion)
	e.FieldStart("taken_at")
	e.Str(snap.TakenAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("products")
	e.Int(len(snap.Levels))
	e.ObjEnd()
	if err := writeLine(gz, &e); err != nil {
		return errors.Wrap(err, "write header")
	}

	ids := make([]string, 0, len(snap.Levels))
	for id := range snap.Levels {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(id)
		e.FieldStart("stock")
		e.Int(snap.Levels[id])
		e.ObjEnd()
		if err := writeLine(gz, &e); err != nil {
			return errors.Wrapf(err, "write %s", id)
		}
	}

	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "close gzip")
	}
	return nil
}

func writeLine(w io.Writer, e *jx.Encoder) error {
	defer e.Reset()
	if _, err := w.Write(e.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(newline)
	return err
}

// Read decodes a snapshot written by Write.
func Read(r io.Reader) (inventory.Snapshot, error) {
	gz, err := pgzip.NewReader(r)
	if err != nil {
		return inventory.Snapshot{}, errors.Wrap(err, "open gzip")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return inventory.Snapshot{}, errors.Wrap(err, "read header")
		}
		return inventory.Snapshot{}, errors.New("empty snapshot")
	}
	snap, want, err := decodeHeader(scanner.Bytes())
	if err != nil {
		return inventory.Snapshot{}, errors.Wrap(err, "decode header")
	}

	for scanner.Scan() {
		id, stock, err := decodeLevel(scanner.Bytes())
		if err != nil {
			return inventory.Snapshot{}, errors.Wrapf(err, "decode line %d", len(snap.Levels)+2)
		}
		if _, dup := snap.Levels[id]; dup {
			return inventory.Snapshot{}, errors.Errorf("duplicate product %q", id)
		}
		snap.Levels[id] = stock
	}
	if err := scanner.Err(); err != nil {
		return inventory.Snapshot{}, errors.Wrap(err, "scan snapshot")
	}
	if len(snap.Levels) != want {
		return inventory.Snapshot{}, errors.Errorf("truncated snapshot: header says %d products, read %d", want, len(snap.Levels))
	}
	return snap, nil
}

func decodeHeader(line []byte) (inventory.Snapshot, int, error) {
	var (
		snap    = inventory.Snapshot{Levels: make(map[string]int)}
		version int
		count   int
	)
	err := jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "version":
			version, err = d.Int()
		case "taken_at":
			var s string
			if s, err = d.Str(); err == nil {
				snap.TakenAt, err = time.Parse(time.RFC3339Nano, s)
			}
		case "products":
			count, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return snap, 0, err
	}
	if version != formatVersion {
		return snap, 0, errors.Errorf("unsupported snapshot version %d", version)
	}
	if snap.TakenAt.IsZero() {
		return snap, 0, errors.New("missing taken_at")
	}
	return snap, count, nil
}

func decodeLevel(line []byte) (id string, stock int, err error) {
	err = jx.DecodeBytes(line).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			id, err = d.Str()
		case "stock":
			stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return "", 0, err
	}
	if id == "" {
		return "", 0, errors.New("missing id")
	}
	if stock < 0 {
		return "", 0, errors.Errorf("negative stock for %q", id)
	}
	return id, stock, nil
}

// WriteFile writes snap to path, replacing it atomically.
func WriteFile(path string, snap inventory.Snapshot) (rerr error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	defer func() {
		if rerr != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	if err := Write(f, snap); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "rename %s", tmp)
	}
	return nil
}

// ReadFile reads a snapshot from path.
func ReadFile(path string) (inventory.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return inventory.Snapshot{}, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()
	return Read(f)
}
