package cmdutil

import "testing"

func TestEnvTruthyValues(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "one", value: "1", want: true},
		{name: "true", value: "true", want: true},
		{name: "yes", value: "yes", want: true},
		{name: "on", value: "on", want: true},
		{name: "zero", value: "0", want: false},
		{name: "false", value: "false", want: false},
		{name: "empty", value: "", want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("BOARDSIM_TEST_TRUTHY", tc.value)
			if got := envTruthy("BOARDSIM_TEST_TRUTHY"); got != tc.want {
				t.Fatalf("envTruthy() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestIsInteractiveFalseUnderCI(t *testing.T) {
	t.Setenv(envNoInteraction, "")
	t.Setenv(envCI, "true")
	t.Setenv(envTerm, "xterm-256color")
	if isInteractive() {
		t.Fatal("isInteractive() should be false when CI is set")
	}
}

func TestIsInteractiveFalseUnderNoInteraction(t *testing.T) {
	t.Setenv(envCI, "")
	t.Setenv(envNoInteraction, "1")
	t.Setenv(envTerm, "xterm-256color")
	if isInteractive() {
		t.Fatal("isInteractive() should be false when NO_INTERACTION is set")
	}
}

func TestIsInteractiveFalseUnderDumbTerm(t *testing.T) {
	t.Setenv(envCI, "")
	t.Setenv(envNoInteraction, "")
	t.Setenv(envTerm, "dumb")
	if isInteractive() {
		t.Fatal("isInteractive() should be false when TERM=dumb")
	}
}
