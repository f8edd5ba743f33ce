package orchestration

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint hashes the instance attributes, minus ignored fields, into a hex
// sha256. encoding/json sorts map keys, so equal attribute sets hash equally.
func Fingerprint(inst Instance, ignore []string) string {
	attrs := inst.Attrs()
	filtered := make(map[string]any, len(attrs))
	for k, v := range attrs {
		filtered[k] = v
	}
	for _, k := range ignore {
		delete(filtered, k)
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(append([]byte(inst.Kind()+"\x00"), data...))
	return hex.EncodeToString(sum[:])
}
