package router_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
	"github.com/xaenox/relay-bot/internal/router"
	"github.com/xaenox/relay-bot/internal/storage"
)

type sentCall struct {
	kind    string
	chatID  int64
	text    string
	caption string
	fileID  string
	replyTo int
}

// fakeTransport records outbound sends and hands out increasing message ids.
type fakeTransport struct {
	calls   []sentCall
	nextID  int
	failFor map[int64]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextID: 100, failFor: make(map[int64]bool)}
}

func (f *fakeTransport) send(call sentCall) (int, error) {
	if f.failFor[call.chatID] {
		return 0, fmt.Errorf("chat %d unreachable", call.chatID)
	}
	f.calls = append(f.calls, call)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeTransport) SendText(chatID int64, text string) (int, error) {
	return f.send(sentCall{kind: "text", chatID: chatID, text: text})
}

func (f *fakeTransport) SendReply(chatID int64, text string, replyTo int) (int, error) {
	return f.send(sentCall{kind: "reply", chatID: chatID, text: text, replyTo: replyTo})
}

func (f *fakeTransport) SendPhoto(chatID int64, fileID, caption string) (int, error) {
	return f.send(sentCall{kind: "photo", chatID: chatID, fileID: fileID, caption: caption})
}

func (f *fakeTransport) SendVideo(chatID int64, fileID, caption string) (int, error) {
	return f.send(sentCall{kind: "video", chatID: chatID, fileID: fileID, caption: caption})
}

func (f *fakeTransport) SendDocument(chatID int64, fileID, caption string) (int, error) {
	return f.send(sentCall{kind: "document", chatID: chatID, fileID: fileID, caption: caption})
}

func (f *fakeTransport) SendAudio(chatID int64, fileID, caption string) (int, error) {
	return f.send(sentCall{kind: "audio", chatID: chatID, fileID: fileID, caption: caption})
}

func (f *fakeTransport) SendVoice(chatID int64, fileID, caption string) (int, error) {
	return f.send(sentCall{kind: "voice", chatID: chatID, fileID: fileID, caption: caption})
}

func (f *fakeTransport) SendVideoNote(chatID int64, fileID string) (int, error) {
	return f.send(sentCall{kind: "video_note", chatID: chatID, fileID: fileID})
}

func (f *fakeTransport) SendSticker(chatID int64, fileID string) (int, error) {
	return f.send(sentCall{kind: "sticker", chatID: chatID, fileID: fileID})
}

func (f *fakeTransport) SendAnimation(chatID int64, fileID, caption string) (int, error) {
	return f.send(sentCall{kind: "animation", chatID: chatID, fileID: fileID, caption: caption})
}

func (f *fakeTransport) CopyMessage(toChatID, fromChatID int64, messageID int) (int, error) {
	return f.send(sentCall{kind: "copy", chatID: toChatID, replyTo: messageID})
}

func (f *fakeTransport) lastCall(t *testing.T) sentCall {
	t.Helper()
	if len(f.calls) == 0 {
		t.Fatal("no transport calls recorded")
	}
	return f.calls[len(f.calls)-1]
}

func newTestRouter(t *testing.T, cfg router.Config) (*router.Router, storage.Storage, *fakeTransport) {
	t.Helper()
	store := storage.NewMemoryStorage(filepath.Join(t.TempDir(), "bot_data.json"), zap.NewNop())
	transport := newFakeTransport()
	return router.New(store, transport, cfg, zap.NewNop()), store, transport
}

func TestForwardTextCarriesLabel(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 42, FirstName: "Alice", Username: "alice"})

	err := rt.Forward(router.Inbound{
		UserID:    42,
		MessageID: 7,
		Type:      models.TypeText,
		Text:      "hello",
	})
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}

	call := transport.lastCall(t)
	if call.kind != "text" || call.chatID != 900 {
		t.Fatalf("forwarded via %q to %d, want text to admin 900", call.kind, call.chatID)
	}
	if want := "Forwarded from @alice\n\nhello"; call.text != want {
		t.Errorf("forwarded text = %q, want %q", call.text, want)
	}
}

func TestForwardLabelPreference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile models.UserProfile
		want    string
	}{
		{"username preferred", models.UserProfile{ID: 1, FirstName: "Alice", Username: "alice"}, "@alice"},
		{"first name fallback", models.UserProfile{ID: 2, FirstName: "Bob"}, "Bob"},
		{"synthetic label", models.UserProfile{ID: 3}, "User3"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rt, store, transport := newTestRouter(t, router.Config{OwnerID: 5})

			store.UpsertUser(tc.profile)
			if err := rt.Forward(router.Inbound{
				UserID:    tc.profile.ID,
				MessageID: 1,
				Type:      models.TypeText,
				Text:      "hi",
			}); err != nil {
				t.Fatalf("Forward: %v", err)
			}

			if got := transport.lastCall(t).text; !strings.HasPrefix(got, "Forwarded from "+tc.want) {
				t.Errorf("forwarded text = %q, want label %q", got, tc.want)
			}
		})
	}
}

func TestForwardMediaDispatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msgType     models.MessageType
		wantKind    string
		wantCaption string
		companion   bool
	}{
		{models.TypePhoto, "photo", "Forwarded from @alice\n\na caption", false},
		{models.TypeVideo, "video", "Forwarded from @alice\n\na caption", false},
		{models.TypeDocument, "document", "Forwarded from @alice\n\na caption", false},
		{models.TypeAudio, "audio", "Forwarded from @alice\n\na caption", false},
		{models.TypeAnimation, "animation", "Forwarded from @alice\n\na caption", false},
		{models.TypeVoice, "voice", "Forwarded from @alice", false},
		{models.TypeVideoNote, "video_note", "", true},
		{models.TypeSticker, "sticker", "", true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(string(tc.msgType), func(t *testing.T) {
			t.Parallel()
			rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

			store.UpsertUser(models.UserProfile{ID: 42, Username: "alice"})
			err := rt.Forward(router.Inbound{
				UserID:    42,
				MessageID: 7,
				Type:      tc.msgType,
				Caption:   "a caption",
				FileID:    "file-1",
			})
			if err != nil {
				t.Fatalf("Forward: %v", err)
			}

			media := transport.calls[0]
			if media.kind != tc.wantKind {
				t.Fatalf("dispatched as %q, want %q", media.kind, tc.wantKind)
			}
			if media.fileID != "file-1" {
				t.Errorf("file id = %q, want file-1", media.fileID)
			}
			if !tc.companion && media.caption != tc.wantCaption {
				t.Errorf("caption = %q, want %q", media.caption, tc.wantCaption)
			}

			if tc.companion {
				if len(transport.calls) != 2 {
					t.Fatalf("caption-less media needs a companion label, got %d calls", len(transport.calls))
				}
				companion := transport.calls[1]
				if companion.kind != "text" || !strings.Contains(companion.text, "Forwarded from @alice") {
					t.Errorf("companion = %+v, want trailing label text", companion)
				}
			} else if len(transport.calls) != 1 {
				t.Fatalf("expected a single send, got %d", len(transport.calls))
			}
		})
	}
}

func TestReplyRoundTrip(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 42, FirstName: "Alice", Username: "alice"})

	if err := rt.Forward(router.Inbound{
		UserID:    42,
		MessageID: 7,
		Type:      models.TypeText,
		Text:      "hello",
	}); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	forwarded := transport.lastCall(t)
	forwardedID := transport.nextID

	userID, originMsgID, err := rt.ResolveReply(forwardedID, forwarded.text)
	if err != nil {
		t.Fatalf("ResolveReply: %v", err)
	}
	if userID != 42 || originMsgID != 7 {
		t.Fatalf("resolved (%d, %d), want (42, 7)", userID, originMsgID)
	}

	if err := rt.SendReply(userID, originMsgID, "hi there"); err != nil {
		t.Fatalf("SendReply: %v", err)
	}

	call := transport.lastCall(t)
	if call.kind != "reply" || call.chatID != 42 || call.replyTo != 7 || call.text != "hi there" {
		t.Errorf("reply call = %+v, want threaded reply to message 7 of chat 42", call)
	}
}

func TestResolveReplyLabelFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantID  int64
		wantErr bool
	}{
		{"username label", "Forwarded from @alice\n\nhello", 42, false},
		{"first name label", "Forwarded from Bob\n\nhello", 43, false},
		{"synthetic label", "Forwarded from User77\n\nhello", 77, false},
		{"unknown username", "Forwarded from @nobody\n\nhello", 0, true},
		{"unknown first name", "Forwarded from Zed\n\nhello", 0, true},
		{"no label at all", "just some admin chatter", 0, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rt, store, _ := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

			store.UpsertUser(models.UserProfile{ID: 42, FirstName: "Alice", Username: "alice"})
			store.UpsertUser(models.UserProfile{ID: 43, FirstName: "Bob"})

			// No correlation entry exists for this id, forcing the label path.
			userID, originMsgID, err := rt.ResolveReply(12345, tc.content)
			if tc.wantErr {
				if !errors.Is(err, router.ErrResolveFailed) {
					t.Fatalf("err = %v, want ErrResolveFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveReply: %v", err)
			}
			if userID != tc.wantID {
				t.Errorf("resolved user = %d, want %d", userID, tc.wantID)
			}
			if originMsgID != 0 {
				t.Errorf("label fallback cannot know the origin message id, got %d", originMsgID)
			}
		})
	}
}

func TestCorrelationIsPrimaryOverLabel(t *testing.T) {
	t.Parallel()
	rt, store, _ := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 42, FirstName: "Alice", Username: "alice"})
	store.UpsertUser(models.UserProfile{ID: 43, FirstName: "Alice", Username: "other"})
	store.StoreMapping(43, 9, 500)

	// The label says @alice (user 42) but the correlation entry pins the
	// forwarded copy to user 43; correlation must win.
	userID, originMsgID, err := rt.ResolveReply(500, "Forwarded from @alice\n\nhello")
	if err != nil {
		t.Fatalf("ResolveReply: %v", err)
	}
	if userID != 43 || originMsgID != 9 {
		t.Errorf("resolved (%d, %d), want correlation result (43, 9)", userID, originMsgID)
	}
}

func TestSendReplyRejections(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 42, Username: "alice"})
	store.BlockUser(42)

	if err := rt.SendReply(42, 7, "hi"); !errors.Is(err, router.ErrUserBlocked) {
		t.Fatalf("reply to blocked user: err = %v, want ErrUserBlocked", err)
	}
	if err := rt.SendReply(999, 0, "hi"); !errors.Is(err, router.ErrUnknownUser) {
		t.Fatalf("reply to unknown user: err = %v, want ErrUnknownUser", err)
	}
	if len(transport.calls) != 0 {
		t.Errorf("rejections must not reach the transport, got %d calls", len(transport.calls))
	}
}

func TestSendReplyPlainWhenOriginUnknown(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 42, Username: "alice"})

	if err := rt.SendReply(42, 0, "hi there"); err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if call := transport.lastCall(t); call.kind != "text" {
		t.Errorf("reply without origin id should be a plain send, got %q", call.kind)
	}
}

func TestBroadcastCountsFailures(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 1, FirstName: "A"})
	store.UpsertUser(models.UserProfile{ID: 2, FirstName: "B"})
	store.UpsertUser(models.UserProfile{ID: 3, FirstName: "C"})
	transport.failFor[2] = true

	result := rt.Broadcast(router.BroadcastSource{Text: "announcement"}, store.ActiveUserIDs())

	if result.Success != 2 || result.Failed != 1 || result.Total != 3 {
		t.Errorf("result = %+v, want success=2 failed=1 total=3", result)
	}
}

func TestBroadcastTotalMatchesSnapshot(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 1, FirstName: "A"})
	snapshot := store.ActiveUserIDs()

	// A user registering after the snapshot was announced must not change
	// the reported total or receive the broadcast.
	store.UpsertUser(models.UserProfile{ID: 2, FirstName: "B"})

	result := rt.Broadcast(router.BroadcastSource{Text: "announcement"}, snapshot)

	if result.Total != len(snapshot) || result.Total != 1 {
		t.Errorf("result = %+v, want total pinned to the snapshot size 1", result)
	}
	for _, call := range transport.calls {
		if call.chatID == 2 {
			t.Error("user outside the announced snapshot must not be contacted")
		}
	}
}

func TestBroadcastSkipsBlockedUsers(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 1, FirstName: "A"})
	store.UpsertUser(models.UserProfile{ID: 2, FirstName: "B"})
	store.BlockUser(2)

	result := rt.Broadcast(router.BroadcastSource{Text: "announcement"}, store.ActiveUserIDs())

	if result.Total != 1 || result.Success != 1 {
		t.Errorf("result = %+v, want the blocked user excluded from fan-out", result)
	}
	for _, call := range transport.calls {
		if call.chatID == 2 {
			t.Error("blocked user must not receive the broadcast")
		}
	}
}

func TestBroadcastCopyMode(t *testing.T) {
	t.Parallel()
	rt, store, transport := newTestRouter(t, router.Config{AdminIDs: []int64{900}})

	store.UpsertUser(models.UserProfile{ID: 1, FirstName: "A"})

	rt.Broadcast(router.BroadcastSource{CopyFromChatID: 900, CopyMessageID: 55}, store.ActiveUserIDs())

	if call := transport.lastCall(t); call.kind != "copy" || call.replyTo != 55 {
		t.Errorf("copy broadcast call = %+v, want copy of message 55", call)
	}
}

func TestTargetChatIDChain(t *testing.T) {
	t.Parallel()

	t.Run("group target while in group mode", func(t *testing.T) {
		t.Parallel()
		rt, store, _ := newTestRouter(t, router.Config{AdminIDs: []int64{900}, OwnerID: 800})
		store.SetMode(models.ModeGroup, 555)
		if got := rt.TargetChatID(); got != 555 {
			t.Errorf("target = %d, want group 555", got)
		}
	})

	t.Run("first admin in private mode", func(t *testing.T) {
		t.Parallel()
		rt, store, _ := newTestRouter(t, router.Config{AdminIDs: []int64{900, 901}, OwnerID: 800})
		store.SetMode(models.ModeGroup, 555)
		store.SetMode(models.ModePrivate, 0)
		if got := rt.TargetChatID(); got != 900 {
			t.Errorf("target = %d, want first admin 900", got)
		}
	})

	t.Run("owner when no admins configured", func(t *testing.T) {
		t.Parallel()
		rt, _, _ := newTestRouter(t, router.Config{OwnerID: 800})
		if got := rt.TargetChatID(); got != 800 {
			t.Errorf("target = %d, want owner 800", got)
		}
	})
}
