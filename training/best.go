package training

// BestTracker retains the parameter snapshot with the highest validation
// accuracy observed so far. It is constructed with the model's initial
// snapshot, so a run whose validation accuracy never rises above zero still
// hands back the initial (pretrained) parameters rather than nothing.
//
// The stored snapshot is always a private deep copy: continued training
// cannot mutate it, and callers receive copies on the way out as well.
type BestTracker struct {
	bestAccuracy float64
	snapshot     Snapshot
}

// NewBestTracker seeds the tracker with the model's construction-time
// parameters and a best accuracy of 0.
func NewBestTracker(initial Snapshot) *BestTracker {
	return &BestTracker{
		bestAccuracy: 0.0,
		snapshot:     initial.Clone(),
	}
}

// Observe offers a new validation accuracy and the parameters that produced
// it. The stored snapshot is replaced only on strict improvement, so a tie
// keeps the earlier epoch's parameters. Returns true when the snapshot was
// replaced.
func (bt *BestTracker) Observe(accuracy float64, params Snapshot) bool {
	if accuracy <= bt.bestAccuracy {
		return false
	}
	bt.bestAccuracy = accuracy
	bt.snapshot = params.Clone()
	return true
}

// BestAccuracy returns the highest validation accuracy seen so far.
func (bt *BestTracker) BestAccuracy() float64 {
	return bt.bestAccuracy
}

// BestSnapshot returns an independent copy of the best parameters.
func (bt *BestTracker) BestSnapshot() Snapshot {
	return bt.snapshot.Clone()
}
