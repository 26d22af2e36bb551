// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"

	"github.com/a2aproject/a2a-go/a2a"
)

const emptyFingerprint = "empty_message"

// Fingerprint returns a short content hash of msg. It covers text, data,
// and file uri/name parts in order.
func Fingerprint(msg *a2a.Message) string {
	if msg == nil {
		return emptyFingerprint
	}

	var fields []string
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case a2a.TextPart:
			fields = append(fields, "text:"+v.Text)
		case *a2a.TextPart:
			fields = append(fields, "text:"+v.Text)
		case a2a.DataPart:
			fields = append(fields, "data:"+canonicalJSON(v.Data))
		case *a2a.DataPart:
			fields = append(fields, "data:"+canonicalJSON(v.Data))
		case a2a.FilePart:
			fields = append(fields, fileFields(v)...)
		case *a2a.FilePart:
			fields = append(fields, fileFields(*v)...)
		}
	}
	if len(fields) == 0 {
		return emptyFingerprint
	}

	sum := sha256.Sum256([]byte(strings.Join(fields, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

func fileFields(p a2a.FilePart) []string {
	switch f := p.File.(type) {
	case a2a.FileURI:
		return []string{"file_uri:" + f.URI, "file_name:" + f.Name}
	case a2a.FileBytes:
		return []string{"file_name:" + f.Name}
	}
	return nil
}

// canonicalJSON encodes v with sorted map keys. encoding/json sorts map
// keys, so a plain Marshal is canonical for decoded JSON values.
func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// fingerprintLog is a bounded FIFO of request fingerprints. It is kept for
// diagnostics only; sends never consult it.
type fingerprintLog struct {
	mu      sync.Mutex
	max     int
	entries []string
}

func newFingerprintLog(max int) *fingerprintLog {
	return &fingerprintLog{max: max}
}

func (l *fingerprintLog) add(fp string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, fp)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

func (l *fingerprintLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}
