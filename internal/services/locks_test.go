package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chokdee888/backend/internal/models"
)

func TestAccountLocks(t *testing.T) {
	t.Run("serializes the same account and ledger", func(t *testing.T) {
		locks := newAccountLocks()

		var wg sync.WaitGroup
		counter := 0
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locks.Lock(42, models.LedgerMain)
				defer unlock()
				counter++
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, counter)
	})

	t.Run("different ledgers do not contend", func(t *testing.T) {
		locks := newAccountLocks()

		unlockMain := locks.Lock(42, models.LedgerMain)
		defer unlockMain()

		// Acquiring the bonus lock while main is held must not block.
		done := make(chan struct{})
		go func() {
			unlock := locks.Lock(42, models.LedgerBonus)
			unlock()
			close(done)
		}()
		<-done
	})
}
