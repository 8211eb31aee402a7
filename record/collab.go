package record

// Indexer maintains secondary indexes over records. Values passed to it are
// full records as returned by Store.GetRec.
type Indexer interface {
	Index(id uint64, rec Value) error
	// Update is called when a field declared as a key changes.
	Update(id uint64, old, new Value, changed []string) error
	Delete(id uint64, rec Value) error
}

// Trigger is notified after records are added or updated and before they
// are deleted.
type Trigger interface {
	OnAdd(id uint64)
	OnUpdate(id uint64)
	OnDelete(id uint64)
}

// NopIndexer ignores every call.
type NopIndexer struct{}

func (NopIndexer) Index(uint64, Value) error                   { return nil }
func (NopIndexer) Update(uint64, Value, Value, []string) error { return nil }
func (NopIndexer) Delete(uint64, Value) error                  { return nil }

// NopTrigger ignores every call.
type NopTrigger struct{}

func (NopTrigger) OnAdd(uint64)    {}
func (NopTrigger) OnUpdate(uint64) {}
func (NopTrigger) OnDelete(uint64) {}
