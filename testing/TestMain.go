package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("EDU_TEST_MODE", "1")
		if os.Getenv("BCRYPT_COST") == "" {
			_ = os.Setenv("BCRYPT_COST", "4")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
