package bus

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gobflow/workflow-manager/internal/envelope"
)

// ContentsDir names the local directory offline/side-file contents are
// kept under (spec §12). loadOfflineContents does not consult it: it reads
// the contents_ref path exactly as given.
var ContentsDir = "/tmp/workflow-manager/contents"

// loadOfflineContents transparently resolves a {"contents_ref": "<path>"}
// placeholder into the real payload before the envelope reaches a handler
// (spec §4.6 step 1, §4.7 "messages offloaded to side files").
func (b *Bus) loadOfflineContents(msg *envelope.Envelope) error {
	if len(msg.Contents) == 0 {
		return nil
	}
	var ref envelope.ContentsRef
	if err := json.Unmarshal(msg.Contents, &ref); err != nil || ref.ContentsRef == "" {
		return nil // not a reference; contents are already inline
	}
	body, err := os.ReadFile(ref.ContentsRef)
	if err != nil {
		return fmt.Errorf("read contents ref %s: %w", ref.ContentsRef, err)
	}
	msg.Contents = body
	return nil
}
