package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
)

var errNotConnected = errors.New("client not connected")

// Client is a remote.Client bound to one session key.
type Client struct {
	net *Network
	key string

	phone            string
	codeHash         string
	connected        bool
	authorized       bool
	awaitingPassword bool
}

type clientState struct {
	Phone      string `json:"phone"`
	Authorized bool   `json:"authorized"`
}

func (c *Client) restore(state []byte) error {
	var st clientState
	if err := json.Unmarshal(state, &st); err != nil {
		return err
	}
	c.phone = st.Phone
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	// A blob outlives the process that wrote it; only an explicit log out
	// revokes it.
	if !st.Authorized || c.net.revoked[c.key] || st.Phone == "" {
		return nil
	}
	if _, ok := c.net.accounts[st.Phone]; !ok {
		c.net.accounts[st.Phone] = &Account{
			Phone: st.Phone,
			Code:  c.net.opts.DefaultCode,
			User:  model.User{ID: "u" + strconv.Itoa(len(c.net.accounts)+1), Phone: st.Phone},
		}
	}
	c.authorized = true
	c.net.authorized[c.key] = st.Phone
	return nil
}

func (c *Client) State() ([]byte, error) {
	return json.Marshal(clientState{Phone: c.phone, Authorized: c.authorized})
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if f, ok := c.net.faults[c.key]; ok && f.connect != nil {
		return &remote.Error{Kind: remote.KindOther, Op: "connect", Err: f.connect}
	}
	if f, ok := c.net.faults[""]; ok && f.connect != nil {
		return &remote.Error{Kind: remote.KindOther, Op: "connect", Err: f.connect}
	}
	c.connected = true
	c.net.connected[c.key] = true
	return nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if f, ok := c.net.faults[c.key]; ok && f.disconnect != nil {
		return &remote.Error{Kind: remote.KindOther, Op: "disconnect", Err: f.disconnect}
	}
	c.dropSubscriptionsLocked()
	c.connected = false
	delete(c.net.connected, c.key)
	return nil
}

func (c *Client) dropSubscriptionsLocked() {
	for id, s := range c.net.subs {
		if s.owner == c {
			delete(c.net.subs, id)
		}
	}
}

func (c *Client) SendCode(ctx context.Context, phone string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.connected {
		return "", &remote.Error{Kind: remote.KindOther, Op: "send_code", Err: errNotConnected}
	}
	if c.net.rejected[phone] {
		return "", remote.Errorf(remote.KindInvalidPhone, "send_code", "phone %s rejected", phone)
	}
	if wait, ok := c.net.throttled[phone]; ok {
		return "", &remote.Error{Kind: remote.KindRateLimited, Op: "send_code", RetryAfter: wait}
	}
	if _, ok := c.net.accounts[phone]; !ok {
		if c.net.opts.DefaultCode == "" {
			return "", remote.Errorf(remote.KindInvalidPhone, "send_code", "phone %s is not registered", phone)
		}
		c.net.accounts[phone] = &Account{
			Phone: phone,
			Code:  c.net.opts.DefaultCode,
			User:  model.User{ID: "u" + strconv.Itoa(len(c.net.accounts)+1), Phone: phone},
		}
	}
	c.phone = phone
	c.codeHash = uuid.NewString()
	c.awaitingPassword = false
	return c.codeHash, nil
}

func (c *Client) SignIn(ctx context.Context, phone, codeHash, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.connected {
		return &remote.Error{Kind: remote.KindOther, Op: "sign_in", Err: errNotConnected}
	}
	acc, ok := c.net.accounts[phone]
	if !ok || c.codeHash == "" || codeHash != c.codeHash {
		return remote.Errorf(remote.KindInvalidCode, "sign_in", "no pending code for %s", phone)
	}
	if code != acc.Code {
		return remote.Errorf(remote.KindInvalidCode, "sign_in", "code mismatch")
	}
	if acc.Password != "" {
		c.awaitingPassword = true
		return &remote.Error{Kind: remote.KindPasswordNeeded, Op: "sign_in"}
	}
	c.authorizeLocked()
	return nil
}

func (c *Client) CheckPassword(ctx context.Context, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.connected {
		return &remote.Error{Kind: remote.KindOther, Op: "check_password", Err: errNotConnected}
	}
	if !c.awaitingPassword {
		return remote.Errorf(remote.KindOther, "check_password", "no password challenge pending")
	}
	if c.net.accounts[c.phone].Password != password {
		return remote.Errorf(remote.KindInvalidPassword, "check_password", "password mismatch")
	}
	c.authorizeLocked()
	return nil
}

func (c *Client) authorizeLocked() {
	c.authorized = true
	c.awaitingPassword = false
	c.codeHash = ""
	c.net.authorized[c.key] = c.phone
}

func (c *Client) LogOut(ctx context.Context) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	c.dropSubscriptionsLocked()
	c.authorized = false
	delete(c.net.authorized, c.key)
	c.net.revoked[c.key] = true
	return nil
}

func (c *Client) Authorized(ctx context.Context) (bool, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if !c.connected {
		return false, &remote.Error{Kind: remote.KindOther, Op: "authorized", Err: errNotConnected}
	}
	return c.authorized, nil
}

func (c *Client) requireAuthLocked(op string) error {
	if !c.connected {
		return &remote.Error{Kind: remote.KindOther, Op: op, Err: errNotConnected}
	}
	if !c.authorized {
		return remote.Errorf(remote.KindOther, op, "client not authorized")
	}
	return nil
}

func (c *Client) Self(ctx context.Context) (model.User, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("self"); err != nil {
		return model.User{}, err
	}
	return c.net.accounts[c.phone].User, nil
}

func (c *Client) ResolveChannel(ctx context.Context, channelID string) (model.Channel, error) {
	if err := ctx.Err(); err != nil {
		return model.Channel{}, err
	}
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("resolve_channel"); err != nil {
		return model.Channel{}, err
	}
	if err, ok := c.net.resolveErr[channelID]; ok {
		return model.Channel{}, &remote.Error{Kind: remote.KindOther, Op: "resolve_channel", Err: err}
	}
	ch, ok := c.net.channels[channelID]
	if !ok {
		return model.Channel{}, remote.Errorf(remote.KindNotFound, "resolve_channel", "channel %s", channelID)
	}
	return ch, nil
}

// Messages returns up to limit messages newest first. A positive offsetID
// returns only messages older than that id.
func (c *Client) Messages(ctx context.Context, channelID string, limit, offsetID int) ([]model.Message, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("messages"); err != nil {
		return nil, err
	}
	if _, ok := c.net.channels[channelID]; !ok {
		return nil, remote.Errorf(remote.KindNotFound, "messages", "channel %s", channelID)
	}
	stored := c.net.history[channelID]
	out := make([]model.Message, 0, len(stored))
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		if offsetID > 0 && stored[i].seq >= offsetID {
			continue
		}
		out = append(out, stored[i].msg)
	}
	return out, nil
}

// Message looks a message up by id. Bare numeric ids are accepted as well
// as the "m" prefixed form messages are published with.
func (c *Client) Message(ctx context.Context, channelID, messageID string) (model.Message, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("message"); err != nil {
		return model.Message{}, err
	}
	if _, ok := c.net.channels[channelID]; !ok {
		return model.Message{}, remote.Errorf(remote.KindNotFound, "message", "channel %s", channelID)
	}
	id := messageKey(messageID)
	for _, st := range c.net.history[channelID] {
		if st.msg.ID == id {
			return st.msg, nil
		}
	}
	return model.Message{}, remote.Errorf(remote.KindNotFound, "message", "message %s in channel %s", messageID, channelID)
}

func (c *Client) Comments(ctx context.Context, channelID, messageID string, limit int) ([]model.Comment, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("comments"); err != nil {
		return nil, err
	}
	id := messageKey(messageID)
	found := false
	for _, st := range c.net.history[channelID] {
		if st.msg.ID == id {
			found = true
			break
		}
	}
	if !found {
		return nil, remote.Errorf(remote.KindNotFound, "comments", "message %s in channel %s", messageID, channelID)
	}
	stored := c.net.comments[id]
	out := make([]model.Comment, 0, len(stored))
	for i := len(stored) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (c *Client) SearchChannels(ctx context.Context, query string, limit int) ([]model.Channel, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("search_channels"); err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	out := make([]model.Channel, 0)
	for _, ch := range c.net.channels {
		if strings.Contains(strings.ToLower(ch.Title), q) {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func messageKey(id string) string {
	if strings.HasPrefix(id, "m") {
		return id
	}
	return "m" + id
}

func (c *Client) Subscribe(channelID string, h remote.Handler) (remote.SubscriptionID, error) {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if err := c.requireAuthLocked("subscribe"); err != nil {
		return "", err
	}
	id, order := c.net.nextSubscriptionLocked()
	c.net.subs[id] = &subscription{id: id, order: order, channelID: channelID, owner: c, handler: h}
	return id, nil
}

func (c *Client) Unsubscribe(id remote.SubscriptionID) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	if f, ok := c.net.faults[c.key]; ok && f.unsubscribe != nil {
		return &remote.Error{Kind: remote.KindOther, Op: "unsubscribe", Err: f.unsubscribe}
	}
	s, ok := c.net.subs[id]
	if !ok || s.owner != c {
		return remote.Errorf(remote.KindNotFound, "unsubscribe", "subscription %s", id)
	}
	delete(c.net.subs, id)
	return nil
}

// ChannelIDs lists known channels in id order.
func (n *Network) ChannelIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.channels))
	for id := range n.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
