// Package memory is an in-process remote backend. It keeps accounts,
// channels and subscriptions in memory and is used in development mode and
// by tests, where faults can be injected per session key.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"channel-watch-server/internal/model"
	"channel-watch-server/internal/remote"
)

type Account struct {
	Phone    string
	Code     string
	Password string
	User     model.User
}

type Options struct {
	// DefaultCode, when set, auto-registers unknown phones with this code.
	DefaultCode string
	Now         func() time.Time
}

type storedMessage struct {
	seq int
	msg model.Message
}

type subscription struct {
	id        remote.SubscriptionID
	order     int
	channelID string
	owner     *Client
	handler   remote.Handler
}

type faults struct {
	connect     error
	disconnect  error
	unsubscribe error
}

// Network is the shared state behind every Client the Dialer creates.
type Network struct {
	opts Options

	mu         sync.Mutex
	accounts   map[string]*Account
	rejected   map[string]bool
	throttled  map[string]time.Duration
	faults     map[string]*faults
	channels   map[string]model.Channel
	resolveErr map[string]error
	history    map[string][]storedMessage
	comments   map[string][]model.Comment // message id -> replies, oldest first
	subs       map[remote.SubscriptionID]*subscription
	authorized map[string]string // session key -> phone
	revoked    map[string]bool   // session keys that logged out
	connected  map[string]bool   // session key -> connected
	seq        int
	subSeq     int

	// dispatchMu keeps Publish calls ordered end to end.
	dispatchMu sync.Mutex
}

func NewNetwork(opts Options) *Network {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Network{
		opts:       opts,
		accounts:   make(map[string]*Account),
		rejected:   make(map[string]bool),
		throttled:  make(map[string]time.Duration),
		faults:     make(map[string]*faults),
		channels:   make(map[string]model.Channel),
		resolveErr: make(map[string]error),
		history:    make(map[string][]storedMessage),
		comments:   make(map[string][]model.Comment),
		subs:       make(map[remote.SubscriptionID]*subscription),
		authorized: make(map[string]string),
		revoked:    make(map[string]bool),
		connected:  make(map[string]bool),
	}
}

func (n *Network) AddAccount(acc Account) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if acc.User.ID == "" {
		acc.User.ID = "u" + strconv.Itoa(len(n.accounts)+1)
	}
	if acc.User.Phone == "" {
		acc.User.Phone = acc.Phone
	}
	cp := acc
	n.accounts[acc.Phone] = &cp
}

// RejectPhone makes SendCode fail with KindInvalidPhone for phone.
func (n *Network) RejectPhone(phone string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected[phone] = true
}

// Throttle makes SendCode fail with KindRateLimited for phone.
func (n *Network) Throttle(phone string, retryAfter time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.throttled[phone] = retryAfter
}

func (n *Network) faultsLocked(sessionKey string) *faults {
	f, ok := n.faults[sessionKey]
	if !ok {
		f = &faults{}
		n.faults[sessionKey] = f
	}
	return f
}

// FailConnect makes the next Connect for sessionKey fail with err.
// An empty sessionKey applies to every client.
func (n *Network) FailConnect(sessionKey string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faultsLocked(sessionKey).connect = err
}

func (n *Network) FailDisconnect(sessionKey string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faultsLocked(sessionKey).disconnect = err
}

func (n *Network) FailUnsubscribe(sessionKey string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.faultsLocked(sessionKey).unsubscribe = err
}

func (n *Network) AddChannel(ch model.Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[ch.ID] = ch
}

// FailResolve makes ResolveChannel for channelID fail with err.
func (n *Network) FailResolve(channelID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolveErr[channelID] = err
}

// Subscriptions returns the number of live subscriptions for channelID
// across all clients.
func (n *Network) Subscriptions(channelID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.subs {
		if s.channelID == channelID {
			count++
		}
	}
	return count
}

// SignedIn reports whether sessionKey holds a remote authorization.
func (n *Network) SignedIn(sessionKey string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.authorized[sessionKey]
	return ok
}

func (n *Network) Connected(sessionKey string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected[sessionKey]
}

// Publish appends a message to channelID and hands it to every live
// subscription for that channel.
func (n *Network) Publish(channelID, text string) model.Message {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	n.mu.Lock()
	n.seq++
	msg := model.Message{
		ID:        fmt.Sprintf("m%d", n.seq),
		ChannelID: channelID,
		Date:      n.opts.Now().UTC(),
		Text:      text,
		Media:     []string{},
	}
	n.history[channelID] = append(n.history[channelID], storedMessage{seq: n.seq, msg: msg})

	targets := make([]*subscription, 0)
	for _, s := range n.subs {
		if s.channelID == channelID {
			targets = append(targets, s)
		}
	}
	n.mu.Unlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].order < targets[j].order })
	for _, s := range targets {
		s.handler.HandleNewMessage(msg)
	}
	return msg
}

// AddComment appends a reply to a published message and updates the
// message's comment counters. It reports false for unknown messages.
func (n *Network) AddComment(channelID, messageID, userID, text string) (model.Comment, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	stored := n.history[channelID]
	idx := -1
	for i := range stored {
		if stored[i].msg.ID == messageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.Comment{}, false
	}

	n.seq++
	date := n.opts.Now().UTC()
	cm := model.Comment{
		ID:        fmt.Sprintf("c%d", n.seq),
		MessageID: messageID,
		ChannelID: channelID,
		UserID:    userID,
		Text:      text,
		Date:      date,
		Media:     []string{},
	}
	n.comments[messageID] = append(n.comments[messageID], cm)
	stored[idx].msg.CommentsCount++
	stored[idx].msg.LastCommentDate = &date
	return cm, true
}

// RunFeed publishes a synthetic message to every known channel each
// interval until ctx is done.
func (n *Network) RunFeed(ctx context.Context, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			for _, id := range n.ChannelIDs() {
				msg := n.Publish(id, "update at "+t.UTC().Format(time.RFC3339))
				log.Debug("feed published", zap.String("channel", id), zap.String("message", msg.ID))
			}
		}
	}
}

func (n *Network) nextSubscriptionLocked() (remote.SubscriptionID, int) {
	n.subSeq++
	return remote.SubscriptionID(fmt.Sprintf("sub-%d", n.subSeq)), n.subSeq
}

// Dialer returns a remote.Dialer backed by n.
func (n *Network) Dialer() remote.Dialer {
	return dialer{net: n}
}

type dialer struct {
	net *Network
}

func (d dialer) Dial(ctx context.Context, sessionKey string, state []byte) (remote.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &Client{net: d.net, key: sessionKey}
	if len(state) > 0 {
		if err := c.restore(state); err != nil {
			return nil, remote.Errorf(remote.KindOther, "dial", "decode state: %v", err)
		}
	}
	return c, nil
}
