package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
)

type collect struct{ msgs []model.Message }

func (c *collect) HandleNewMessage(msg model.Message) { c.msgs = append(c.msgs, msg) }

func signedIn(t *testing.T, n *Network, key, phone, code string) remote.Client {
	t.Helper()
	ctx := context.Background()
	c, err := n.Dialer().Dial(ctx, key, nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	hash, err := c.SendCode(ctx, phone)
	require.NoError(t, err)
	require.NoError(t, c.SignIn(ctx, phone, hash, code))
	return c
}

func TestSendCode_Failures(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{})
	n.RejectPhone("+15550000001")
	n.Throttle("+15550000002", time.Minute)

	c, err := n.Dialer().Dial(ctx, "k", nil)
	require.NoError(t, err)

	_, err = c.SendCode(ctx, "+15550000001")
	assert.Equal(t, remote.KindOther, remote.KindOf(err), "not connected yet")

	require.NoError(t, c.Connect(ctx))
	_, err = c.SendCode(ctx, "+15550000001")
	assert.Equal(t, remote.KindInvalidPhone, remote.KindOf(err))

	_, err = c.SendCode(ctx, "+15550000002")
	assert.Equal(t, remote.KindRateLimited, remote.KindOf(err))
	assert.Equal(t, time.Minute, remote.RetryAfter(err))

	_, err = c.SendCode(ctx, "+15550000003")
	assert.Equal(t, remote.KindInvalidPhone, remote.KindOf(err), "unknown phones need DefaultCode")
}

func TestSignIn_PasswordNeeded(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{})
	n.AddAccount(Account{Phone: "+15550000001", Code: "1", Password: "pw"})

	c, err := n.Dialer().Dial(ctx, "k", nil)
	require.NoError(t, err)
	require.NoError(t, c.Connect(ctx))
	hash, err := c.SendCode(ctx, "+15550000001")
	require.NoError(t, err)

	err = c.SignIn(ctx, "+15550000001", hash, "2")
	assert.Equal(t, remote.KindInvalidCode, remote.KindOf(err))

	err = c.SignIn(ctx, "+15550000001", hash, "1")
	assert.Equal(t, remote.KindPasswordNeeded, remote.KindOf(err))

	assert.Equal(t, remote.KindInvalidPassword, remote.KindOf(c.CheckPassword(ctx, "nope")))
	require.NoError(t, c.CheckPassword(ctx, "pw"))

	ok, err := c.Authorized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, n.SignedIn("k"))
}

func TestPublish_OrderAndUnsubscribe(t *testing.T) {
	n := NewNetwork(Options{DefaultCode: "1"})
	n.AddChannel(model.Channel{ID: "c"})
	c := signedIn(t, n, "k", "+15550000001", "1")

	h := &collect{}
	id, err := c.Subscribe("c", h)
	require.NoError(t, err)

	n.Publish("c", "a")
	n.Publish("c", "b")
	n.Publish("other", "x")
	require.Len(t, h.msgs, 2)
	assert.Equal(t, "a", h.msgs[0].Text)
	assert.Equal(t, "b", h.msgs[1].Text)

	require.NoError(t, c.Unsubscribe(id))
	n.Publish("c", "c")
	assert.Len(t, h.msgs, 2)
	assert.Equal(t, remote.KindNotFound, remote.KindOf(c.Unsubscribe(id)))
}

func TestMessages_NewestFirstWithOffset(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{DefaultCode: "1"})
	n.AddChannel(model.Channel{ID: "c"})
	c := signedIn(t, n, "k", "+15550000001", "1")

	for _, text := range []string{"one", "two", "three"} {
		n.Publish("c", text)
	}
	msgs, err := c.Messages(ctx, "c", 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "three", msgs[0].Text)
	assert.Equal(t, "two", msgs[1].Text)

	msgs, err = c.Messages(ctx, "c", 10, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "one", msgs[0].Text)
}

func TestRestore_FromState(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{DefaultCode: "1"})
	c := signedIn(t, n, "k", "+15550000001", "1")
	state, err := c.State()
	require.NoError(t, err)

	// A fresh network, as after a restart, still honours the blob.
	fresh := NewNetwork(Options{})
	restored, err := fresh.Dialer().Dial(ctx, "k", state)
	require.NoError(t, err)
	require.NoError(t, restored.Connect(ctx))
	ok, err := restored.Authorized(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	user, err := restored.Self(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", user.Phone)

	// After a log out the same network refuses it.
	require.NoError(t, c.LogOut(ctx))
	again, err := n.Dialer().Dial(ctx, "k", state)
	require.NoError(t, err)
	require.NoError(t, again.Connect(ctx))
	ok, err = again.Authorized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFaults(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{DefaultCode: "1"})
	n.AddChannel(model.Channel{ID: "c"})
	boom := errors.New("boom")

	n.FailResolve("c", boom)
	c := signedIn(t, n, "k", "+15550000001", "1")
	_, err := c.ResolveChannel(ctx, "c")
	assert.ErrorIs(t, err, boom)

	n.FailDisconnect("k", boom)
	assert.ErrorIs(t, c.Disconnect(ctx), boom)
	assert.True(t, n.Connected("k"))

	n.FailConnect("", boom)
	other, err := n.Dialer().Dial(ctx, "k2", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Connect(ctx), boom)
}

func TestMessageAndComments(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{DefaultCode: "1"})
	n.AddChannel(model.Channel{ID: "c"})
	c := signedIn(t, n, "k", "+15550000001", "1")

	msg := n.Publish("c", "post")
	_, ok := n.AddComment("c", msg.ID, "u9", "first")
	require.True(t, ok)
	_, ok = n.AddComment("c", msg.ID, "u9", "second")
	require.True(t, ok)
	_, ok = n.AddComment("c", "m999", "u9", "lost")
	assert.False(t, ok)

	got, err := c.Message(ctx, "c", strings.TrimPrefix(msg.ID, "m"))
	require.NoError(t, err)
	assert.Equal(t, "post", got.Text)
	assert.Equal(t, 2, got.CommentsCount)
	require.NotNil(t, got.LastCommentDate)

	_, err = c.Message(ctx, "c", "m999")
	assert.Equal(t, remote.KindNotFound, remote.KindOf(err))

	comments, err := c.Comments(ctx, "c", msg.ID, 1)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "second", comments[0].Text)
	assert.Equal(t, msg.ID, comments[0].MessageID)

	_, err = c.Comments(ctx, "c", "m999", 10)
	assert.Equal(t, remote.KindNotFound, remote.KindOf(err))
}

func TestSearchChannels(t *testing.T) {
	ctx := context.Background()
	n := NewNetwork(Options{DefaultCode: "1"})
	n.AddChannel(model.Channel{ID: "1", Title: "Go News"})
	n.AddChannel(model.Channel{ID: "2", Title: "Rust news"})
	n.AddChannel(model.Channel{ID: "3", Title: "Sports"})
	c := signedIn(t, n, "k", "+15550000001", "1")

	found, err := c.SearchChannels(ctx, "NEWS", 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "1", found[0].ID)
	assert.Equal(t, "2", found[1].ID)

	found, err = c.SearchChannels(ctx, "news", 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)
}
