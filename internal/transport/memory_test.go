package transport

import (
	"strconv"
	"testing"

	"github.com/SWAI-Ltd/ctxpipe/internal/pipe"
)

func TestLateTargetReceivesQueuedMessage(t *testing.T) {
	bus := NewBus[string]()
	bg := pipe.New[string]("bg")
	content := pipe.New[string]("content")
	popup := pipe.New[string]("popup")

	var received []string
	bg.OnMessage(func(m string) { received = append(received, m) })

	// bg can hear the bus but has not wired its send side yet.
	bus.Add(bg)
	bus.Attach(content)
	bus.Attach(popup)

	popup.PostMessage("ping", "bg")

	if len(received) != 0 {
		t.Fatalf("bg received %v before it came online", received)
	}
	if w := popup.Waiting(); len(w) != 1 || w[0].Message != "ping" {
		t.Fatalf("ping not queued at popup: %+v", w)
	}

	bus.Attach(bg)

	if len(received) != 1 || received[0] != "ping" {
		t.Fatalf("bg received %v, want [ping]", received)
	}
	if w := popup.Waiting(); len(w) != 0 {
		t.Fatalf("popup still holds %+v", w)
	}
}

func TestBusBroadcastReachesEveryMember(t *testing.T) {
	bus := NewBus[string]()
	names := []string{"bg", "content", "popup", "options"}
	pipes := make([]*pipe.Pipe[string], len(names))
	counts := make(map[string]int)
	for i, name := range names {
		name := name
		pipes[i] = pipe.New[string](name)
		pipes[i].OnMessage(func(string) { counts[name]++ })
		bus.Attach(pipes[i])
	}

	pipes[0].PostMessage("all", "")

	for _, name := range names[1:] {
		if counts[name] != 1 {
			t.Fatalf("%s received broadcast %d times, want 1", name, counts[name])
		}
	}
	if counts["bg"] != 0 {
		t.Fatal("sender received its own broadcast")
	}
}

func TestBusAttachSettles(t *testing.T) {
	for _, n := range []int{3, 4, 6} {
		t.Run(strconv.Itoa(n), func(t *testing.T) {
			bus := NewBus[string]()
			pipes := make([]*pipe.Pipe[string], n)
			var greetings int
			for i := range pipes {
				pipes[i] = pipe.New[string]("m" + strconv.Itoa(i))
				pipes[i].OnPayload(func(pl pipe.Payload[string]) {
					if pl.IsGreeting() {
						greetings++
						if greetings > 1000 {
							t.Fatal("greetings never settle")
						}
					}
				})
			}
			for _, p := range pipes {
				bus.Attach(p)
			}

			// One greeting per member, each seen by every member at most once.
			if greetings > n*n {
				t.Fatalf("%d greetings processed for %d members", greetings, n)
			}
			for _, p := range pipes {
				if w := p.Waiting(); len(w) != 0 {
					t.Fatalf("%s still holds %+v", p.ID(), w)
				}
				for _, other := range pipes {
					if !p.Online(other.ID()) {
						t.Fatalf("%s never observed %s", p.ID(), other.ID())
					}
				}
			}
		})
	}
}

func TestBusAttachIsIdempotent(t *testing.T) {
	bus := NewBus[string]()
	p := pipe.New[string]("bg")
	var greetings int
	p.OnPayload(func(pl pipe.Payload[string]) {
		if pl.IsGreeting() && pl.From == "bg" {
			greetings++
		}
	})
	bus.Attach(p)
	bus.Attach(p)

	if greetings != 1 {
		t.Fatalf("got %d greetings, want 1", greetings)
	}
	if bus.Len() != 1 {
		t.Fatalf("bus has %d members, want 1", bus.Len())
	}
}

func TestBusDetach(t *testing.T) {
	bus := NewBus[string]()
	a := pipe.New[string]("a")
	b := pipe.New[string]("b")
	var got int
	b.OnMessage(func(string) { got++ })
	bus.Attach(a)
	bus.Attach(b)
	bus.Detach(b)

	a.PostMessage("m", "")
	if got != 0 {
		t.Fatal("detached member still receives")
	}
	if bus.Len() != 1 {
		t.Fatalf("bus has %d members, want 1", bus.Len())
	}
}
