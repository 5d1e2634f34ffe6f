package media

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Summarize renders a one-line description of an SDP payload for logs,
// e.g. "session 123 [0:audio(111 9 0) 1:video(96 97)]". Unparseable input
// is reported by size only.
func Summarize(raw string) string {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return fmt.Sprintf("unparsed sdp (%d bytes)", len(raw))
	}

	sections := make([]string, 0, len(sd.MediaDescriptions))
	for i, md := range sd.MediaDescriptions {
		mid, ok := md.Attribute("mid")
		if !ok {
			mid = fmt.Sprint(i)
		}
		sections = append(sections, fmt.Sprintf("%s:%s(%s)",
			mid, md.MediaName.Media, strings.Join(md.MediaName.Formats, " ")))
	}
	return fmt.Sprintf("session %d [%s]", sd.Origin.SessionID, strings.Join(sections, " "))
}
