package topicmatch

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"join", "join", true},
		{"join", "joined", false},
		{"team.*.ping", "team.1.ping", true},
		{"team.*.ping", "team.1.tile", false},
		{"team.*.ping", "team.1.2.ping", false},
		{"team.1.*", "team.1.ping", true},
		{"team.1.*", "team.1.tile", true},
		{"team.1.*", "team.2.ping", false},
		{"team.#", "team.1.ping", true},
		{"team.#", "team", true},
		{"team.#", "other.1.ping", false},
		{"#", "anything.at.all", true},
		{"#", "", true},
		{"seesawLock", "seesawUnlock", false},
	}
	for _, c := range cases {
		m, err := Compile(c.pattern)
		if err != nil {
			t.Fatalf("Compile(%q): %v", c.pattern, err)
		}
		if got := m.Match(c.key); got != c.want {
			t.Errorf("pattern %q against %q: got %v, want %v", c.pattern, c.key, got, c.want)
		}
	}
}
