package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xaenox/relay-bot/internal/models"
)

// forwardPrefix is the textual convention that tags every forwarded copy with
// its origin label. Reply resolution parses it back out as a fallback path.
const forwardPrefix = "Forwarded from "

var (
	forwardLabelRe   = regexp.MustCompile(`Forwarded from (.+)`)
	syntheticLabelRe = regexp.MustCompile(`^User(\d+)$`)
)

// Label builds the human-readable origin tag for a user: @username when set,
// else the first name, else a synthetic User<id> label.
func Label(record models.UserRecord, userID int64) string {
	if record.Username != "" {
		return "@" + record.Username
	}
	if record.FirstName != "" {
		return record.FirstName
	}
	return fmt.Sprintf("User%d", userID)
}

func forwardCaption(label, caption string) string {
	if caption == "" {
		return forwardPrefix + label
	}
	return forwardPrefix + label + "\n\n" + caption
}

// ResolveReply maps an admin's reply on a forwarded message back to the
// originating user. The correlation map is the primary, unambiguous path and
// also yields the origin message id for threading. Label parsing is only a
// fallback for forwarded copies whose correlation entry has been evicted or
// lost across restarts; it cannot recover the origin message id and may be
// ambiguous for users sharing a first name (first match in insertion order
// wins).
func (r *Router) ResolveReply(forwardedMsgID int, content string) (int64, int, error) {
	if userID, originMsgID, ok := r.storage.OriginByForwarded(forwardedMsgID); ok {
		return userID, originMsgID, nil
	}

	label, ok := parseForwardLabel(content)
	if !ok {
		return 0, 0, ErrResolveFailed
	}

	if m := syntheticLabelRe.FindStringSubmatch(label); m != nil {
		userID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, 0, ErrResolveFailed
		}
		return userID, 0, nil
	}

	if username, found := strings.CutPrefix(label, "@"); found {
		if userID, ok := r.storage.FindByUsername(username); ok {
			return userID, 0, nil
		}
		return 0, 0, ErrResolveFailed
	}

	if userID, ok := r.storage.FindByFirstName(label); ok {
		return userID, 0, nil
	}
	return 0, 0, ErrResolveFailed
}

func parseForwardLabel(content string) (string, bool) {
	m := forwardLabelRe.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	label := strings.TrimSpace(m[1])
	if label == "" {
		return "", false
	}
	return label, true
}
