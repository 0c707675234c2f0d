package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAction(t *testing.T) {
	tests := []struct {
		name string
		sig  int
		want Action
	}{
		{"kill", SIGKILL, ActTerminate},
		{"term", SIGTERM, ActTerminate},
		{"int", SIGINT, ActTerminate},
		{"alrm", SIGALRM, ActTerminate},
		{"usr1", SIGUSR1, ActTerminate},
		{"usr2", SIGUSR2, ActTerminate},
		{"tstp", SIGTSTP, ActStop},
		{"ttin", SIGTTIN, ActStop},
		{"ttou", SIGTTOU, ActStop},
		{"cont", SIGCONT, ActContinue},
		{"unlisted_low", 1, ActIgnore},
		{"unlisted_high", NSIG, ActIgnore},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Default(tt.sig))
		})
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, uint32(0), Mask(0))
	assert.Equal(t, uint32(0), Mask(NSIG+1))
	assert.Equal(t, uint32(1), Mask(1))
	assert.Equal(t, uint32(1<<(SIGKILL-1)), Mask(SIGKILL))

	seen := map[uint32]bool{}
	for sig := 1; sig <= NSIG; sig++ {
		m := Mask(sig)
		assert.False(t, seen[m], "signal masks must be pairwise distinct")
		seen[m] = true
	}
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(0))
	assert.True(t, Valid(1))
	assert.True(t, Valid(NSIG))
	assert.False(t, Valid(NSIG+1))
}

func TestSigDflAndSigIgnAreDistinctSentinels(t *testing.T) {
	assert.NotEqual(t, SIG_DFL, SIG_IGN)
}
