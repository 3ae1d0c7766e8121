package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// GenesisHash is the previous hash of the first entry in a trail.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the layout used when hashing and storing timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Actions recorded by missionctl.
const (
	ActionBundleBuild     = "bundle-build"
	ActionMissionStart    = "mission-start"
	ActionMissionComplete = "mission-complete"
	ActionMissionFailed   = "mission-failed"
	ActionBreakGlass      = "break-glass"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultGranted = "granted"
)

// AuditEntry is one link of the hash chain. ID is assigned by the store
// and is not part of the hashed payload.
type AuditEntry struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"ts"`
	Actor        string    `json:"actor"`
	Host         string    `json:"host"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	Result       string    `json:"result"`
	Detail       string    `json:"detail,omitempty"`
	PreviousHash string    `json:"prev_hash"`
	EntryHash    string    `json:"entry_hash"`
}

// ComputeHash returns the chain hash of an entry: SHA-256 over
// ts|actor|host|action|target|result|detail|previousHash.
func ComputeHash(e AuditEntry) string {
	payload := strings.Join([]string{
		e.Timestamp.UTC().Format(TimestampFormat),
		e.Actor,
		e.Host,
		e.Action,
		e.Target,
		e.Result,
		e.Detail,
		e.PreviousHash,
	}, "|")
	return HashLine([]byte(payload))
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
