package workitem

const progressEpsilon = 1e-9

// deriveNonLeaf computes the status and progress of a non-leaf item from its
// direct children, per spec.md §4.1's derivation table. Cancelled children
// are excluded from the progress average (W4) but still count toward the
// "all children cancelled/completed" status rules.
func deriveNonLeaf(children []*WorkItem) (Status, float64) {
	if len(children) == 0 {
		return NotStarted, 0.0
	}

	var completed, cancelled, notStarted, blocked int
	var includedSum float64
	var includedCount int
	for _, c := range children {
		switch c.Status {
		case Completed:
			completed++
		case Cancelled:
			cancelled++
		case NotStarted:
			notStarted++
		case Blocked:
			blocked++
		}
		if c.Status != Cancelled {
			includedSum += c.Progress
			includedCount++
		}
	}

	total := len(children)
	var status Status
	switch {
	case completed+cancelled == total && completed >= 1:
		status = Completed
	case cancelled == total:
		status = Cancelled
	case notStarted == total:
		status = NotStarted
	case blocked > 0:
		status = Blocked
	default:
		status = InProgress
	}

	progress := 0.0
	if includedCount > 0 {
		progress = includedSum / float64(includedCount)
	}
	return status, progress
}

func progressChanged(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff > progressEpsilon
}
