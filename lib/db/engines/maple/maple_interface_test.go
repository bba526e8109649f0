package maple

import (
	"bytes"
	"github.com/ValentinKolb/dDoc/lib/db"
	dbtesting "github.com/ValentinKolb/dDoc/lib/db/testing"
	"testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
		return NewMapleDB(nil)
	})

	t.Run("SingleShard", func(t *testing.T) {
		dbtesting.RunKVDBTests(t, "MapleDB", func() db.KVDB {
			return NewMapleDB(&DBOptions{NumShards: 1})
		})
	})
}

func TestLoadKeepsWriteIndexMonotonic(t *testing.T) {
	src := NewMapleDB(nil)
	for i := 0; i < 10; i++ {
		src.Set("key", []byte{byte(i)})
	}

	var buf bytes.Buffer
	if err := src.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	dst := NewMapleDB(&DBOptions{NumShards: 3}).(*mapleImpl)
	if err := dst.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if dst.writeIdx.Load() < 10 {
		t.Errorf("Expected write index >= 10 after Load, got %d", dst.writeIdx.Load())
	}
	if v, ok := dst.Get("key"); !ok || v[0] != 9 {
		t.Errorf("Expected last written value 9, got %v (found=%v)", v, ok)
	}
}

func TestLoadRejectsOldVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magicNum)
	buf.WriteByte(3)

	if err := NewMapleDB(nil).Load(&buf); err == nil {
		t.Errorf("Expected version mismatch error")
	}
}
