// Copyright 2026 The Studio Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcriptstore persists conversation transcripts on disk,
// one file per thread.
//
// A file is a fixed header followed by the CBOR-encoded [Transcript],
// optionally compressed:
//
//	magic "STRN" | version (1 byte) | compression (1 byte) |
//	uncompressed size (uvarint) | body
//
// Writes go to a temporary file renamed into place, so a reader never
// sees a partial transcript.
package transcriptstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentstudio/studio/lib/clock"
	"github.com/agentstudio/studio/lib/codec"
	"github.com/agentstudio/studio/lib/message"
)

const (
	magic         = "STRN"
	formatVersion = 1
	fileSuffix    = ".transcript"

	// maxTranscriptSize bounds the uncompressed size a header may
	// claim, so a corrupt header cannot trigger a huge allocation.
	maxTranscriptSize = 256 << 20
)

// ErrNotFound is returned by Load for a thread with no transcript.
var ErrNotFound = errors.New("transcriptstore: transcript not found")

// Transcript is the persisted state of one conversation thread.
type Transcript struct {
	ThreadID  string            `json:"thread_id"`
	Model     string            `json:"model,omitempty"`
	UpdatedAt time.Time         `json:"updated_at"`
	Messages  []message.Message `json:"messages"`
}

// Store reads and writes transcripts under one directory. It is safe
// for concurrent use; writes to the same thread are serialized.
type Store struct {
	directory   string
	compression Compression
	clock       clock.Clock
	logger      *slog.Logger

	mutex sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithCompression selects the body compression for new writes. Reads
// handle every compression regardless.
func WithCompression(compression Compression) Option {
	return func(store *Store) { store.compression = compression }
}

// WithClock replaces the real clock used for UpdatedAt.
func WithClock(source clock.Clock) Option {
	return func(store *Store) { store.clock = source }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(store *Store) { store.logger = logger }
}

// Open creates the directory if needed and returns a Store over it.
func Open(directory string, options ...Option) (*Store, error) {
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("transcriptstore: creating %s: %w", directory, err)
	}
	store := &Store{
		directory:   directory,
		compression: CompressionZstd,
		clock:       clock.Real(),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

// ValidThreadID reports whether id can name a transcript file.
func ValidThreadID(id string) bool {
	if id == "" || len(id) > 128 || id == "." || id == ".." {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func (store *Store) path(threadID string) string {
	return filepath.Join(store.directory, threadID+fileSuffix)
}

// Load reads the transcript for threadID.
func (store *Store) Load(threadID string) (Transcript, error) {
	if !ValidThreadID(threadID) {
		return Transcript{}, fmt.Errorf("transcriptstore: invalid thread id %q", threadID)
	}
	data, err := os.ReadFile(store.path(threadID))
	if errors.Is(err, fs.ErrNotExist) {
		return Transcript{}, ErrNotFound
	}
	if err != nil {
		return Transcript{}, fmt.Errorf("transcriptstore: reading %s: %w", threadID, err)
	}
	transcript, err := decode(data)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcriptstore: decoding %s: %w", threadID, err)
	}
	return transcript, nil
}

// Save writes transcript, replacing any previous version. UpdatedAt is
// set to the current time.
func (store *Store) Save(transcript Transcript) error {
	if !ValidThreadID(transcript.ThreadID) {
		return fmt.Errorf("transcriptstore: invalid thread id %q", transcript.ThreadID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.saveLocked(transcript)
}

func (store *Store) saveLocked(transcript Transcript) error {
	transcript.UpdatedAt = store.clock.Now().UTC()
	data, err := store.encode(transcript)
	if err != nil {
		return fmt.Errorf("transcriptstore: encoding %s: %w", transcript.ThreadID, err)
	}

	temporary, err := os.CreateTemp(store.directory, "transcript-*.tmp")
	if err != nil {
		return fmt.Errorf("transcriptstore: creating temp file: %w", err)
	}
	temporaryPath := temporary.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(temporaryPath)
		}
	}()

	if _, err := temporary.Write(data); err != nil {
		temporary.Close()
		return fmt.Errorf("transcriptstore: writing %s: %w", transcript.ThreadID, err)
	}
	if err := temporary.Close(); err != nil {
		return fmt.Errorf("transcriptstore: closing temp file: %w", err)
	}
	if err := os.Rename(temporaryPath, store.path(transcript.ThreadID)); err != nil {
		return fmt.Errorf("transcriptstore: renaming into place: %w", err)
	}
	success = true

	store.logger.Debug("transcript saved",
		"thread_id", transcript.ThreadID,
		"messages", len(transcript.Messages),
		"bytes", len(data),
	)
	return nil
}

// Merge adds messages to the thread's transcript: a message whose id
// is already present replaces the stored one in place, the rest are
// appended in order. A missing transcript is created.
func (store *Store) Merge(threadID, model string, messages []message.Message) (Transcript, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	transcript, err := store.Load(threadID)
	if errors.Is(err, ErrNotFound) {
		transcript = Transcript{ThreadID: threadID}
	} else if err != nil {
		return Transcript{}, err
	}
	if model != "" {
		transcript.Model = model
	}
	transcript.Messages = MergeMessages(transcript.Messages, messages)
	if err := store.saveLocked(transcript); err != nil {
		return Transcript{}, err
	}
	return transcript, nil
}

// MergeMessages returns existing with additions folded in by id.
// Messages without an id are always appended.
func MergeMessages(existing, additions []message.Message) []message.Message {
	merged := message.CloneAll(existing)
	positions := make(map[string]int, len(merged))
	for i, stored := range merged {
		if stored.ID != "" {
			positions[stored.ID] = i
		}
	}
	for _, addition := range additions {
		if position, ok := positions[addition.ID]; ok && addition.ID != "" {
			merged[position] = addition.Clone()
			continue
		}
		if addition.ID != "" {
			positions[addition.ID] = len(merged)
		}
		merged = append(merged, addition.Clone())
	}
	return merged
}

// Delete removes the thread's transcript. Deleting a missing
// transcript is not an error.
func (store *Store) Delete(threadID string) error {
	if !ValidThreadID(threadID) {
		return fmt.Errorf("transcriptstore: invalid thread id %q", threadID)
	}
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if err := os.Remove(store.path(threadID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("transcriptstore: deleting %s: %w", threadID, err)
	}
	return nil
}

// List returns the stored thread ids in sorted order.
func (store *Store) List() ([]string, error) {
	entries, err := os.ReadDir(store.directory)
	if err != nil {
		return nil, fmt.Errorf("transcriptstore: listing %s: %w", store.directory, err)
	}
	var threads []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if id, ok := strings.CutSuffix(entry.Name(), fileSuffix); ok && ValidThreadID(id) {
			threads = append(threads, id)
		}
	}
	sort.Strings(threads)
	return threads, nil
}

func (store *Store) encode(transcript Transcript) ([]byte, error) {
	body, err := codec.Marshal(transcript)
	if err != nil {
		return nil, err
	}
	compression := store.compression
	compressed, err := compress(body, compression)
	if errors.Is(err, errIncompressible) {
		compression, compressed = CompressionNone, body
	} else if err != nil {
		return nil, err
	}

	var buffer bytes.Buffer
	buffer.Grow(len(magic) + 2 + binary.MaxVarintLen64 + len(compressed))
	buffer.WriteString(magic)
	buffer.WriteByte(formatVersion)
	buffer.WriteByte(byte(compression))
	buffer.Write(binary.AppendUvarint(nil, uint64(len(body))))
	buffer.Write(compressed)
	return buffer.Bytes(), nil
}

func decode(data []byte) (Transcript, error) {
	if len(data) < len(magic)+2 || string(data[:len(magic)]) != magic {
		return Transcript{}, errors.New("not a transcript file")
	}
	rest := data[len(magic):]
	if version := rest[0]; version != formatVersion {
		return Transcript{}, fmt.Errorf("unsupported format version %d", version)
	}
	compression := Compression(rest[1])
	size, read := binary.Uvarint(rest[2:])
	if read <= 0 {
		return Transcript{}, errors.New("malformed size header")
	}
	if size > maxTranscriptSize {
		return Transcript{}, fmt.Errorf("transcript size %d exceeds limit", size)
	}
	body, err := decompress(rest[2+read:], compression, int(size))
	if err != nil {
		return Transcript{}, err
	}
	var transcript Transcript
	if err := codec.Unmarshal(body, &transcript); err != nil {
		return Transcript{}, err
	}
	return transcript, nil
}
