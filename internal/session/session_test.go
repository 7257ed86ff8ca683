package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/contentsrc"
	"github.com/wrenfield/loreshare/internal/roles"
	"github.com/wrenfield/loreshare/internal/roomstore"
	"github.com/wrenfield/loreshare/internal/roster"
	"github.com/wrenfield/loreshare/internal/testutil"
	"github.com/wrenfield/loreshare/internal/tree"
)

const twoParty = `participants:
  - id: alice
    name: Alice
    elevated: true
  - id: bob
    name: Bob
`

const twoPartyElevatedBob = `participants:
  - id: alice
    name: Alice
    elevated: true
  - id: bob
    name: Bob
    elevated: true
`

type roomEnv struct {
	t          *testing.T
	bus        *bus.Broker
	db         *roomstore.DB
	roster     *roster.Roster
	rosterPath string
	dir        string
}

func newRoomEnv(t *testing.T, rosterYAML string) *roomEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "roster.yaml")
	if err := os.WriteFile(path, []byte(rosterYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	ros, err := roster.Load(path, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	return &roomEnv{
		t:          t,
		bus:        testutil.Broker(t),
		db:         testutil.RoomDB(t),
		roster:     ros,
		rosterPath: path,
		dir:        dir,
	}
}

func (e *roomEnv) setRoster(yaml string) {
	e.t.Helper()
	if err := os.WriteFile(e.rosterPath, []byte(yaml), 0o644); err != nil {
		e.t.Fatal(err)
	}
}

type party struct {
	s      *Session
	store  *tree.Store
	cancel context.CancelFunc
	done   chan error
	once   sync.Once
}

func (p *party) stop() {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
}

// join starts a session for id with fast test timings. seed, when
// non-nil, becomes the participant's canonical tree before the session
// starts. ownerTimeout 0 keeps the protocol default.
func (e *roomEnv) join(id, name string, src contentsrc.Source, ownerTimeout time.Duration, seed *tree.Tree) *party {
	e.t.Helper()

	st, err := tree.NewStore(filepath.Join(e.dir, id+"-tree.json"), testutil.Logger())
	if err != nil {
		e.t.Fatal(err)
	}
	if err := st.Load(); err != nil {
		e.t.Fatal(err)
	}
	if seed != nil {
		if err := st.Replace(*seed); err != nil {
			e.t.Fatal(err)
		}
	}

	s := New(Params{
		ID:     id,
		Name:   name,
		RoomID: "tavern",
		Bus:    e.bus,
		DB:     e.db,
		Store:  st,
		Roster: e.roster,
		Source: src,

		OwnerTimeout:      ownerTimeout,
		HeartbeatInterval: 100 * time.Millisecond,
		RolePollInterval:  50 * time.Millisecond,
		RequestTimeout:    500 * time.Millisecond,

		Logger: testutil.Logger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	p := &party{s: s, store: st, cancel: cancel, done: make(chan error, 1)}
	go func() { p.done <- s.Run(ctx) }()
	e.t.Cleanup(p.stop)
	return p
}

func waitRole(t *testing.T, s *Session, want roles.Role) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Role() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("role = %q, want %q", s.Role(), want)
}

func loreTree() tree.Tree {
	return tree.Tree{Level: tree.Level{
		Categories: []tree.Category{{
			ID:   "c-lore",
			Name: "Lore",
			Level: tree.Level{
				Pages: []tree.Page{
					{ID: "p-intro", Name: "Intro", SourceURL: "https://wiki.example/intro", VisibleToViewers: true},
					{ID: "p-secret", Name: "Secret", SourceURL: "https://wiki.example/secret"},
				},
			},
		}},
	}}
}

func TestOwnerServesViewer(t *testing.T) {
	env := newRoomEnv(t, twoParty)
	seed := loreTree()
	alice := env.join("alice", "Alice", contentsrc.NewStatic(nil), 0, &seed)
	waitRole(t, alice.s, roles.Owner)

	bob := env.join("bob", "Bob", contentsrc.NewStatic(nil), 0, nil)
	waitRole(t, bob.s, roles.Viewer)

	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		got := bob.s.Tree()
		return got.FindPage("p-intro") != nil
	}, "viewer never received the tree")

	got := bob.s.Tree()
	if got.FindPage("p-secret") != nil {
		t.Error("hidden page visible to viewer")
	}
	if got.FindLevel("c-lore") == nil {
		t.Error("category missing from viewer tree")
	}

	// Viewers cannot mutate.
	if err := bob.s.SetPageVisibility("p-intro", false); !errors.Is(err, apperr.ErrNotOwner) {
		t.Errorf("viewer mutation err = %v, want ErrNotOwner", err)
	}

	// Revealing the page reaches the viewer through the push channel.
	if err := alice.s.SetPageVisibility("p-secret", true); err != nil {
		t.Fatalf("set visibility: %v", err)
	}
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		got := bob.s.Tree()
		return got.FindPage("p-secret") != nil
	}, "revealed page never reached the viewer")

	st := bob.s.Status()
	if st.OwnerID != "alice" || !st.OwnerActive {
		t.Errorf("status = %+v, want live owner alice", st)
	}
	if st.OwnerName != "Alice" {
		t.Errorf("owner name = %q, want Alice", st.OwnerName)
	}
}

func TestViewerFallsBackToRoomCopy(t *testing.T) {
	env := newRoomEnv(t, twoParty)
	seed := loreTree()
	alice := env.join("alice", "Alice", contentsrc.NewStatic(nil), 0, &seed)
	waitRole(t, alice.s, roles.Owner)

	// The owner stored the filtered copy on activation; then it leaves.
	alice.stop()

	bob := env.join("bob", "Bob", contentsrc.NewStatic(nil), 0, nil)
	waitRole(t, bob.s, roles.Viewer)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		got := bob.s.Tree()
		return got.FindPage("p-intro") != nil
	}, "room copy never loaded")

	got := bob.s.Tree()
	if got.FindPage("p-secret") != nil {
		t.Error("room copy leaked a hidden page")
	}
}

func TestElevationGrantsFullTree(t *testing.T) {
	env := newRoomEnv(t, twoParty)
	seed := loreTree()
	alice := env.join("alice", "Alice", contentsrc.NewStatic(nil), 0, &seed)
	waitRole(t, alice.s, roles.Owner)

	bob := env.join("bob", "Bob", contentsrc.NewStatic(nil), 0, nil)
	waitRole(t, bob.s, roles.Viewer)
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		got := bob.s.Tree()
		return got.FindPage("p-intro") != nil
	}, "viewer tree never synced")

	env.setRoster(twoPartyElevatedBob)

	// The poll picks up the elevation; a live owner means co-owner, and
	// the full-tree sync brings the hidden page along.
	waitRole(t, bob.s, roles.CoOwner)
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		got := bob.s.Tree()
		return got.FindPage("p-secret") != nil
	}, "full tree never reached the new co-owner")
}

func TestStaleOwnerTakeover(t *testing.T) {
	env := newRoomEnv(t, twoPartyElevatedBob)
	seed := loreTree()
	alice := env.join("alice", "Alice", contentsrc.NewStatic(nil), 0, &seed)
	waitRole(t, alice.s, roles.Owner)

	// Bob judges staleness with a short window so the test does not wait
	// out the real fifteen minutes.
	bob := env.join("bob", "Bob", contentsrc.NewStatic(nil), 400*time.Millisecond, nil)
	waitRole(t, bob.s, roles.CoOwner)
	testutil.Eventually(t, 3*time.Second, 20*time.Millisecond, func() bool {
		got := bob.s.Tree()
		return got.FindPage("p-secret") != nil
	}, "co-owner never synced the full tree")

	alice.stop()

	waitRole(t, bob.s, roles.Owner)
	got := bob.s.Tree()
	if got.FindPage("p-secret") == nil {
		t.Error("takeover lost the replica")
	}
	st := bob.s.Status()
	if st.OwnerID != "bob" {
		t.Errorf("owner = %q, want bob", st.OwnerID)
	}
}

func TestContentRequestAndCache(t *testing.T) {
	env := newRoomEnv(t, twoParty)
	seed := loreTree()
	src := contentsrc.NewStatic(map[string]string{"p-intro": "<p>v1</p>"})
	alice := env.join("alice", "Alice", src, 0, &seed)
	waitRole(t, alice.s, roles.Owner)

	bob := env.join("bob", "Bob", contentsrc.NewStatic(nil), 0, nil)
	waitRole(t, bob.s, roles.Viewer)

	ctx := context.Background()
	got, err := bob.s.Content(ctx, "p-intro", false)
	if err != nil {
		t.Fatalf("content: %v", err)
	}
	if got != "<p>v1</p>" {
		t.Errorf("content = %q", got)
	}

	// The source changes; the cached copy keeps answering until bypassed.
	src.Set("p-intro", "<p>v2</p>")
	if got, _ := bob.s.Content(ctx, "p-intro", false); got != "<p>v1</p>" {
		t.Errorf("cached content = %q, want v1", got)
	}
	got, err = bob.s.Content(ctx, "p-intro", true)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got != "<p>v2</p>" {
		t.Errorf("refreshed content = %q, want v2", got)
	}

	// Unknown pages answer with the unavailable sentinel, not silence.
	start := time.Now()
	if _, err := bob.s.Content(ctx, "p-ghost", false); !errors.Is(err, apperr.ErrUnavailable) {
		t.Errorf("unknown page err = %v, want ErrUnavailable", err)
	}
	if e := time.Since(start); e > 400*time.Millisecond {
		t.Errorf("sentinel took %v, should beat the request timeout", e)
	}
}

func TestShareSurfacesOnPeerStream(t *testing.T) {
	env := newRoomEnv(t, twoParty)
	seed := loreTree()
	alice := env.join("alice", "Alice", contentsrc.NewStatic(nil), 0, &seed)
	waitRole(t, alice.s, roles.Owner)
	bob := env.join("bob", "Bob", contentsrc.NewStatic(nil), 0, nil)
	waitRole(t, bob.s, roles.Viewer)

	events := alice.s.Events().Subscribe()
	defer alice.s.Events().Unsubscribe(events)

	if err := bob.s.ShareURL("https://wiki.example/ferry", "Ferry Routes"); err != nil {
		t.Fatalf("share: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				t.Fatal("event stream closed early")
			}
			frame := string(msg)
			if strings.Contains(frame, "content.shared") {
				if !strings.Contains(frame, "https://wiki.example/ferry") {
					t.Errorf("share event missing url: %q", frame)
				}
				return
			}
		case <-deadline:
			t.Fatal("share never reached the peer stream")
		}
	}
}

func TestShareHTMLOverCeilingRejected(t *testing.T) {
	env := newRoomEnv(t, twoParty)
	alice := env.join("alice", "Alice", contentsrc.NewStatic(nil), 0, nil)
	waitRole(t, alice.s, roles.Owner)

	err := alice.s.ShareHTML(strings.Repeat("x", 100_000), "big")
	if !errors.Is(err, apperr.ErrPayloadTooLarge) {
		t.Errorf("err = %v, want ErrPayloadTooLarge", err)
	}
}
