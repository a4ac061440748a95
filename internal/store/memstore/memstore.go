// Package memstore is an in-memory store.Store implementation, used for
// tests and as the default development backend. It keeps a group cache
// with per-group monotonic numbering;
// per-catalog mutations and watermark advances are serialized under a
// per-catalog mutex rather than a bare atomic increment, since post()
// must allocate the number and update the watermark as one atomic step.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nntpd/nntpd/internal/store"
)

type catalogState struct {
	mu         sync.Mutex
	catalog    *store.Catalog
	placements map[int64]*store.Placement // number -> placement

	// next is the next article number to allocate. It runs ahead of the
	// visible high watermark because pending placements take numbers
	// without advancing it.
	next int64
}

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu     sync.RWMutex
	postMu sync.Mutex // serializes Post() end-to-end, see Post's doc comment

	catalogs   map[string]*catalogState // name -> state
	messages   map[string]*store.Message
	placedIn   map[string][]string // message-id -> catalog names it's placed in
	identities map[string]*store.Identity
	subs       map[string]map[string]bool // username -> set of catalog names
	peers      map[string]*store.Peer     // "host[:port]" -> peer
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		catalogs:   make(map[string]*catalogState),
		messages:   make(map[string]*store.Message),
		placedIn:   make(map[string][]string),
		identities: make(map[string]*store.Identity),
		subs:       make(map[string]map[string]bool),
		peers:      make(map[string]*store.Peer),
	}
}

// CreateCatalog registers a new catalog directly (administrative path,
// used by internal/admin's `GROUP ... CREATE`).
func (s *Store) CreateCatalog(name, description string, moderated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.catalogs[name]; exists {
		return fmt.Errorf("catalog %q already exists", name)
	}
	s.catalogs[name] = &catalogState{
		catalog: &store.Catalog{
			Name:        name,
			Description: description,
			Moderated:   moderated,
			CreatedAt:   time.Now().UTC(),
			Low:         1,
			High:        0,
		},
		placements: make(map[int64]*store.Placement),
		next:       1,
	}
	return nil
}

// CreateIdentity registers a user directly (administrative path, used by
// `USER ... CREATE`).
func (s *Store) CreateIdentity(username, plaintext string, caps map[store.Capability]bool) (*store.Identity, error) {
	salt, err := store.NewSalt()
	if err != nil {
		return nil, err
	}
	id := &store.Identity{
		ID:           uuid.NewString(),
		Username:     username,
		Salt:         salt,
		PasswordHash: store.HashPassword(salt, plaintext),
		Capabilities: caps,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[strings.ToLower(username)] = id
	return id, nil
}

func (s *Store) Ensure(ctx context.Context, identity *store.Identity) error {
	if identity == nil {
		return store.ErrInvalidIdentity
	}
	inboxName := identity.Username + ".INBOX"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.catalogs[inboxName]; exists {
		return nil
	}
	s.catalogs[inboxName] = &catalogState{
		catalog: &store.Catalog{
			Name:      inboxName,
			Owner:     identity.Username,
			CreatedAt: time.Now().UTC(),
			Low:       1,
			High:      0,
		},
		placements: make(map[int64]*store.Placement),
		next:       1,
	}
	return nil
}

// resolveMeta splits a requested name into (base name, filter), handling
// the `.deleted`/`.pending` meta-catalog suffixes. The views are computed
// here, never persisted.
func resolveMeta(name string) (base string, filter store.MetaFilter) {
	switch {
	case strings.HasSuffix(name, ".deleted"):
		return strings.TrimSuffix(name, ".deleted"), store.FilterDeleted
	case strings.HasSuffix(name, ".pending"):
		return strings.TrimSuffix(name, ".pending"), store.FilterPending
	default:
		return name, store.FilterVisible
	}
}

func (s *Store) GetCatalog(ctx context.Context, identity *store.Identity, name string) (*store.Catalog, error) {
	base, filter := resolveMeta(name)
	if filter != store.FilterVisible && !identity.HasCapability(store.CapCheckCatalog) {
		return nil, nil
	}

	s.mu.RLock()
	cs, ok := s.catalogs[base]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	view := *cs.catalog
	view.Filter = filter
	if filter != store.FilterVisible {
		view.Low, view.High, view.PostCount = computeWatermarks(cs.placements, filter)
	}
	return &view, nil
}

func computeWatermarks(placements map[int64]*store.Placement, filter store.MetaFilter) (low, high, count int64) {
	low, high = 0, 0
	first := true
	for num, p := range placements {
		if !matchesFilter(p, filter) {
			continue
		}
		if first || num < low {
			low = num
		}
		if first || num > high {
			high = num
		}
		first = false
		count++
	}
	return
}

func matchesFilter(p *store.Placement, filter store.MetaFilter) bool {
	switch filter {
	case store.FilterDeleted:
		return p.Cancelled
	case store.FilterPending:
		return p.Pending
	default:
		return !p.Cancelled && !p.Pending
	}
}

func (s *Store) ListAllCatalogs(ctx context.Context, identity *store.Identity) ([]*store.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name, cs := range s.catalogs {
		owner := cs.catalog.Owner
		if owner != "" && (identity == nil || owner != identity.Username) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*store.Catalog, 0, len(names))
	for _, name := range names {
		cs := s.catalogs[name]
		cs.mu.Lock()
		c := *cs.catalog
		cs.mu.Unlock()
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) ListGlobalCatalogs(ctx context.Context, identity *store.Identity, parent string) ([]*store.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name, cs := range s.catalogs {
		if cs.catalog.Owner != "" {
			continue
		}
		if !matchesParent(name, parent) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*store.Catalog, 0, len(names))
	for _, name := range names {
		cs := s.catalogs[name]
		cs.mu.Lock()
		c := *cs.catalog
		cs.mu.Unlock()
		out = append(out, &c)
	}
	return out, nil
}

func matchesParent(name, parent string) bool {
	if parent == "" {
		return !strings.Contains(name, ".")
	}
	return strings.HasPrefix(name, parent+".")
}

func (s *Store) ListPersonalCatalogs(ctx context.Context, identity *store.Identity, parent string) ([]*store.Catalog, error) {
	if identity == nil {
		return nil, store.ErrInvalidIdentity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for name, cs := range s.catalogs {
		if cs.catalog.Owner != identity.Username {
			continue
		}
		if !matchesParent(name, parent) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*store.Catalog, 0, len(names))
	for _, name := range names {
		cs := s.catalogs[name]
		cs.mu.Lock()
		c := *cs.catalog
		cs.mu.Unlock()
		out = append(out, &c)
	}
	return out, nil
}

func (s *Store) CreatePersonalCatalog(ctx context.Context, identity *store.Identity, name string) (bool, error) {
	if identity == nil {
		return false, store.ErrInvalidIdentity
	}
	if strings.EqualFold(name, "INBOX") {
		return false, nil
	}
	fullName := identity.Username + "." + name

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.catalogs[fullName]; exists {
		return false, nil
	}
	s.catalogs[fullName] = &catalogState{
		catalog: &store.Catalog{
			Name:      fullName,
			Owner:     identity.Username,
			CreatedAt: time.Now().UTC(),
			Low:       1,
			High:      0,
		},
		placements: make(map[int64]*store.Placement),
		next:       1,
	}
	return true, nil
}

func (s *Store) AuthenticatePassword(ctx context.Context, username, plaintext string) (*store.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.identities[strings.ToLower(username)]
	if !ok {
		// Still perform a constant-time comparison against a dummy hash so
		// unknown-username and wrong-password paths take equivalent time.
		store.VerifyPassword("", plaintext, "")
		return nil, nil
	}
	if !store.VerifyPassword(id.Salt, plaintext, id.PasswordHash) {
		return nil, nil
	}
	id.LastLogin = time.Now().UTC()
	cp := *id
	return &cp, nil
}

func (s *Store) GetMessages(ctx context.Context, identity *store.Identity, catalog string, from, to int64) ([]*store.Placement, error) {
	base, filter := resolveMeta(catalog)
	if filter != store.FilterVisible && !identity.HasCapability(store.CapCheckCatalog) {
		return nil, store.ErrCatalogMissing
	}

	s.mu.RLock()
	cs, ok := s.catalogs[base]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrCatalogMissing
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	var nums []int64
	for num, p := range cs.placements {
		if !matchesFilter(p, filter) {
			continue
		}
		if num < from {
			continue
		}
		if to > 0 && num > to {
			continue
		}
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })

	out := make([]*store.Placement, 0, len(nums))
	for _, n := range nums {
		p := *cs.placements[n]
		out = append(out, &p)
	}
	return out, nil
}

func (s *Store) GetMessageByID(ctx context.Context, identity *store.Identity, messageID string) (*store.Placement, *store.Message, error) {
	s.mu.RLock()
	msg, ok := s.messages[messageID]
	catalogs := append([]string(nil), s.placedIn[messageID]...)
	s.mu.RUnlock()
	if !ok {
		return nil, nil, nil
	}
	if len(catalogs) == 0 {
		return nil, msg, nil
	}
	s.mu.RLock()
	cs := s.catalogs[catalogs[0]]
	s.mu.RUnlock()
	if cs == nil {
		return nil, msg, nil
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, p := range cs.placements {
		if p.MessageID == messageID {
			cp := *p
			return &cp, msg, nil
		}
	}
	return nil, msg, nil
}

func (s *Store) GetMessage(ctx context.Context, messageID string) (*store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return nil, nil
	}
	return msg, nil
}

// Post allocates a fresh per-catalog number and advances the watermark
// atomically per catalog, and rejects duplicate message-ids. postMu
// serializes the whole operation end-to-end (duplicate-check through
// message/placement commit) rather than just the per-catalog counters,
// so two concurrent posts of the same message-id cannot both pass the
// duplicate check before either commits.
//
// Identities carrying the can-inject capability are peer feeds: they are
// gated by DenyPeerPosting, everyone else by DenyLocalPosting. Posts to
// moderated catalogs go through only for can-approve-any holders; a
// local poster is refused with ErrModerationRequired, while a peer
// transfer is queued as a pending placement for moderator review, since
// the article is already in flight and cannot be bounced to a moderator.
func (s *Store) Post(ctx context.Context, identity *store.Identity, msg *store.Message) (string, map[string]int64, error) {
	s.postMu.Lock()
	defer s.postMu.Unlock()

	s.mu.RLock()
	_, dup := s.messages[msg.MessageID]
	s.mu.RUnlock()
	if dup {
		return "", nil, store.ErrDuplicateMessageID
	}

	peer := identity.HasCapability(store.CapInject)
	numbers := make(map[string]int64)
	var placedCatalogs []string
	var moderationRefused, postingDenied bool

	for _, name := range msg.Newsgroups {
		s.mu.RLock()
		cs, ok := s.catalogs[name]
		s.mu.RUnlock()
		if !ok {
			continue
		}

		cs.mu.Lock()
		if (peer && cs.catalog.DenyPeerPosting) || (!peer && cs.catalog.DenyLocalPosting) {
			cs.mu.Unlock()
			postingDenied = true
			continue
		}
		pending := false
		if cs.catalog.Moderated && !identity.HasCapability(store.CapApproveAny) {
			if !peer {
				cs.mu.Unlock()
				moderationRefused = true
				continue
			}
			pending = true
		}
		num := cs.next
		cs.next++
		if !pending {
			cs.catalog.High = num
			if cs.catalog.PostCount == 0 {
				cs.catalog.Low = num
			}
			cs.catalog.PostCount++
		}
		cs.placements[num] = &store.Placement{
			MessageID: msg.MessageID,
			Catalog:   name,
			Number:    num,
			Pending:   pending,
		}
		cs.mu.Unlock()

		numbers[name] = num
		placedCatalogs = append(placedCatalogs, name)
	}

	if len(numbers) == 0 {
		switch {
		case moderationRefused:
			return "", nil, store.ErrModerationRequired
		case postingDenied:
			return "", nil, store.ErrUnauthorized
		default:
			return "", nil, store.ErrBadNewsgroup
		}
	}

	s.mu.Lock()
	s.messages[msg.MessageID] = msg
	s.placedIn[msg.MessageID] = placedCatalogs
	s.mu.Unlock()

	return msg.MessageID, numbers, nil
}

func (s *Store) Subscribe(ctx context.Context, identity *store.Identity, name string) error {
	if identity == nil {
		return store.ErrInvalidIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.subs[identity.Username]
	if !ok {
		set = make(map[string]bool)
		s.subs[identity.Username] = set
	}
	set[name] = true
	return nil
}

func (s *Store) Unsubscribe(ctx context.Context, identity *store.Identity, name string) error {
	if identity == nil {
		return store.ErrInvalidIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[identity.Username]; ok {
		delete(set, name)
	}
	return nil
}

func (s *Store) GetSubscriptions(ctx context.Context, identity *store.Identity) ([]store.Subscription, error) {
	if identity == nil {
		return nil, store.ErrInvalidIdentity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.subs[identity.Username]
	out := make([]store.Subscription, 0, len(set))
	for name := range set {
		out = append(out, store.Subscription{Username: identity.Username, Catalog: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Catalog < out[j].Catalog })
	return out, nil
}

// SetCatalogCreator records the identity responsible for a catalog
// (administrative path, `GROUP <name> CREATOR <x>`).
func (s *Store) SetCatalogCreator(name, creator string) error {
	cs, err := s.lockCatalog(name)
	if err != nil {
		return err
	}
	defer cs.mu.Unlock()
	cs.catalog.CreatorIdentity = creator
	return nil
}

// SetCatalogDenyLocal toggles whether locally-authenticated posters may
// post to the catalog (`GROUP <name> DENYLOCAL on|off`).
func (s *Store) SetCatalogDenyLocal(name string, deny bool) error {
	cs, err := s.lockCatalog(name)
	if err != nil {
		return err
	}
	defer cs.mu.Unlock()
	cs.catalog.DenyLocalPosting = deny
	return nil
}

// SetCatalogDenyPeer toggles whether peer-fed posts are accepted
// (`GROUP <name> DENYPEER on|off`).
func (s *Store) SetCatalogDenyPeer(name string, deny bool) error {
	cs, err := s.lockCatalog(name)
	if err != nil {
		return err
	}
	defer cs.mu.Unlock()
	cs.catalog.DenyPeerPosting = deny
	return nil
}

// SetCatalogModeration toggles moderation (`GROUP <name> MODERATION on|off`).
func (s *Store) SetCatalogModeration(name string, moderated bool) error {
	cs, err := s.lockCatalog(name)
	if err != nil {
		return err
	}
	defer cs.mu.Unlock()
	cs.catalog.Moderated = moderated
	return nil
}

func (s *Store) lockCatalog(name string) (*catalogState, error) {
	s.mu.RLock()
	cs, ok := s.catalogs[name]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrCatalogMissing
	}
	cs.mu.Lock()
	return cs, nil
}

// CancelMessage marks every placement of messageID cancelled and
// recomputes the affected catalogs' watermarks. Driven by cancel
// control messages; cancellation is monotonic, there is no un-cancel.
func (s *Store) CancelMessage(messageID string) error {
	s.mu.RLock()
	names := append([]string(nil), s.placedIn[messageID]...)
	s.mu.RUnlock()
	if len(names) == 0 {
		return fmt.Errorf("memstore: no such message %s", messageID)
	}

	for _, name := range names {
		s.mu.RLock()
		cs := s.catalogs[name]
		s.mu.RUnlock()
		if cs == nil {
			continue
		}
		cs.mu.Lock()
		for _, p := range cs.placements {
			if p.MessageID == messageID {
				p.Cancelled = true
			}
		}
		low, high, count := computeWatermarks(cs.placements, store.FilterVisible)
		cs.catalog.PostCount = count
		if count > 0 {
			cs.catalog.Low, cs.catalog.High = low, high
		}
		cs.mu.Unlock()
	}
	return nil
}

// RemoveCatalog deletes a catalog and its placements. Driven by rmgroup
// control messages.
func (s *Store) RemoveCatalog(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.catalogs[name]; !ok {
		return store.ErrCatalogMissing
	}
	delete(s.catalogs, name)
	return nil
}

// CreatePeer registers a feed peer directly (administrative path,
// `PEER <host[:port]> CREATE`).
func (s *Store) CreatePeer(host string, port int) (*store.Peer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := peerKey(host, port)
	if p, ok := s.peers[key]; ok {
		return p, nil
	}
	p := &store.Peer{ID: uuid.NewString(), Host: host, Port: port}
	s.peers[key] = p
	return p, nil
}

// SetPeerSuck sets the active-receive wildmat for a peer
// (`PEER <host[:port]> SUCK [wildmat]`).
func (s *Store) SetPeerSuck(host string, port int, wildmatExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[peerKey(host, port)]
	if !ok {
		return fmt.Errorf("peer %s not found", peerKey(host, port))
	}
	p.ActiveReceive = wildmatExpr
	return nil
}

// ListPeers returns a snapshot of all registered feed peers.
func (s *Store) ListPeers() []*store.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

func peerKey(host string, port int) string {
	if port == 0 {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// VerifyIntegrity checks every catalog's placement set against its
// recorded watermarks, used by `DB VERIFY`. It reports each catalog whose
// placements disagree with Low/High without repairing anything.
func (s *Store) VerifyIntegrity() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.catalogs))
	for name := range s.catalogs {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	var problems []string
	for _, name := range names {
		s.mu.RLock()
		cs := s.catalogs[name]
		s.mu.RUnlock()

		cs.mu.Lock()
		low, high, _ := computeWatermarks(cs.placements, store.FilterVisible)
		wantLow, wantHigh := cs.catalog.Low, cs.catalog.High
		cs.mu.Unlock()

		if len(cs.placements) > 0 && (low < wantLow || high > wantHigh) {
			problems = append(problems, fmt.Sprintf("%s: placements [%d,%d] outside watermarks [%d,%d]", name, low, high, wantLow, wantHigh))
		}
	}
	return problems
}

// UpdateWatermarks recomputes each catalog's Low/High/PostCount from its
// live placement set, used by `DB UPDATE`.
func (s *Store) UpdateWatermarks() {
	s.mu.RLock()
	states := make([]*catalogState, 0, len(s.catalogs))
	for _, cs := range s.catalogs {
		states = append(states, cs)
	}
	s.mu.RUnlock()

	for _, cs := range states {
		cs.mu.Lock()
		low, high, count := computeWatermarks(cs.placements, store.FilterVisible)
		if count > 0 {
			cs.catalog.Low, cs.catalog.High, cs.catalog.PostCount = low, high, count
		}
		cs.mu.Unlock()
	}
}

// Annihilate discards all catalogs, messages, placements, identities and
// subscriptions, used by `DB ANNIHILATE`. Irreversible.
func (s *Store) Annihilate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs = make(map[string]*catalogState)
	s.messages = make(map[string]*store.Message)
	s.placedIn = make(map[string][]string)
	s.identities = make(map[string]*store.Identity)
	s.subs = make(map[string]map[string]bool)
	s.peers = make(map[string]*store.Peer)
}
