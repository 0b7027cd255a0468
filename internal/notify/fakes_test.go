package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"herald/internal/chat"
	"herald/internal/items"
)

// fakeChat records every outbound call and can be scripted to fail.
type fakeChat struct {
	mu       sync.Mutex
	channel  []sentMsg
	direct   []sentMsg
	created  []string
	existing []chat.ChannelInfo

	sendErr      error
	directErr    error
	createErr    error
	listErr      error
	nextTopicID  int
	failCreateOn map[string]error
}

type sentMsg struct {
	dest      chat.Destination
	recipient int64
	msg       chat.Message
}

func newFakeChat() *fakeChat {
	return &fakeChat{nextTopicID: 100, failCreateOn: map[string]error{}}
}

func (f *fakeChat) SendToChannel(_ context.Context, dest chat.Destination, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.channel = append(f.channel, sentMsg{dest: dest, msg: msg})
	return nil
}

func (f *fakeChat) SendDirect(_ context.Context, recipient int64, msg chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.directErr != nil {
		return f.directErr
	}
	f.direct = append(f.direct, sentMsg{recipient: recipient, msg: msg})
	return nil
}

func (f *fakeChat) CreateChannel(_ context.Context, group int64, name, description string) (chat.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return chat.Destination{}, f.createErr
	}
	if err, ok := f.failCreateOn[name]; ok {
		return chat.Destination{}, err
	}
	f.nextTopicID++
	dest := chat.Destination{ChatID: group, TopicID: f.nextTopicID}
	f.created = append(f.created, name)
	f.existing = append(f.existing, chat.ChannelInfo{Name: name, Description: description, Dest: dest})
	return dest, nil
}

func (f *fakeChat) ListChannels(_ context.Context, _ int64) ([]chat.ChannelInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]chat.ChannelInfo(nil), f.existing...), nil
}

func (f *fakeChat) channelSends() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.channel...)
}

func (f *fakeChat) directSends() []sentMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMsg(nil), f.direct...)
}

func (f *fakeChat) createdNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

// fakeItems serves items from a map and a list.
type fakeItems struct {
	byGID   map[string]items.Item
	list    []items.Item
	getErr  error
	listErr error
}

func newFakeItems(list ...items.Item) *fakeItems {
	f := &fakeItems{byGID: map[string]items.Item{}, list: list}
	for _, it := range list {
		f.byGID[it.GID] = it
	}
	return f
}

func (f *fakeItems) GetItem(_ context.Context, gid string) (*items.Item, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	it, ok := f.byGID[gid]
	if !ok {
		return nil, items.ErrNotFound
	}
	cp := it
	return &cp, nil
}

func (f *fakeItems) ListItems(_ context.Context, _ items.Filter) ([]items.Item, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]items.Item(nil), f.list...), nil
}

func (f *fakeItems) RegisterWebhook(_ context.Context, targetURL string, _ []items.EventFilter) (string, error) {
	return "wh-" + targetURL, nil
}

// memStores implements all three persistence interfaces in memory.
type memStores struct {
	mu       sync.Mutex
	bindings map[string]ChannelBinding
	ids      map[string]int64
	prefs    map[int64]Preference

	bindingErr error
	lookupErr  error
	prefErr    error
}

func newMemStores() *memStores {
	return &memStores{
		bindings: map[string]ChannelBinding{},
		ids:      map[string]int64{},
		prefs:    map[int64]Preference{},
	}
}

func bindingKey(group int64, logical string) string {
	return fmt.Sprintf("%d/%s", group, logical)
}

func (m *memStores) PutBinding(_ context.Context, b ChannelBinding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindingErr != nil {
		return m.bindingErr
	}
	m.bindings[bindingKey(b.Group, b.Logical)] = b
	return nil
}

func (m *memStores) ListBindings(_ context.Context, group int64) ([]ChannelBinding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bindingErr != nil {
		return nil, m.bindingErr
	}
	var out []ChannelBinding
	for _, b := range m.bindings {
		if b.Group == group {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memStores) DeleteBindings(_ context.Context, group int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, b := range m.bindings {
		if b.Group == group {
			delete(m.bindings, k)
		}
	}
	return nil
}

func (m *memStores) LookupIdentity(_ context.Context, externalID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookupErr != nil {
		return 0, false, m.lookupErr
	}
	id, ok := m.ids[externalID]
	return id, ok, nil
}

func (m *memStores) GetPreference(_ context.Context, identity int64) (Preference, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prefErr != nil {
		return Preference{}, false, m.prefErr
	}
	p, ok := m.prefs[identity]
	return p, ok, nil
}

func (m *memStores) SetPreference(_ context.Context, p Preference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[p.Identity] = p
	return nil
}

var errBoom = errors.New("boom")

var (
	_ chat.Client     = (*fakeChat)(nil)
	_ items.Service   = (*fakeItems)(nil)
	_ BindingStore    = (*memStores)(nil)
	_ IdentityStore   = (*memStores)(nil)
	_ PreferenceStore = (*memStores)(nil)
)
