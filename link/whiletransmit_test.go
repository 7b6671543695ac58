// Copyright 2016 by Thorsten von Eicken, see LICENSE file

package link

import "testing"

func Test_TaskPostponedByCountdown(t *testing.T) {
	var w whileTransmit
	w.init()
	runs := 0
	w.setHandler(TaskStoreParams, func() { runs++ })
	w.setTask(TaskStoreParams)
	w.trigger()

	for i := 0; i < 4; i++ {
		w.do()
		if runs != 0 {
			t.Fatalf("task ran after %d loops, expected postponement", i+1)
		}
	}
	w.do() // fifth loop: countdown expired
	if runs != 1 {
		t.Fatalf("task ran %d times, expected 1", runs)
	}
	w.do()
	if runs != 1 {
		t.Fatalf("task re-ran without a new trigger")
	}
}

func Test_OneTaskPerCycle(t *testing.T) {
	const taskOther = 1 << 1
	var w whileTransmit
	w.init()
	runs := map[uint16]int{}
	w.setHandler(TaskStoreParams, func() { runs[TaskStoreParams]++ })
	w.setHandler(taskOther, func() { runs[taskOther]++ })
	w.setTask(TaskStoreParams)
	w.setTask(taskOther)

	w.trigger()
	for i := 0; i < 5; i++ {
		w.do()
	}
	if runs[TaskStoreParams]+runs[taskOther] != 1 {
		t.Fatalf("expected exactly one task per cycle, got %v", runs)
	}

	w.trigger()
	for i := 0; i < 5; i++ {
		w.do()
	}
	if runs[TaskStoreParams] != 1 || runs[taskOther] != 1 {
		t.Fatalf("second cycle did not run the remaining task: %v", runs)
	}
}

func Test_NoTaskNoRun(t *testing.T) {
	var w whileTransmit
	w.init()
	ran := false
	w.setHandler(TaskStoreParams, func() { ran = true })
	w.trigger()
	for i := 0; i < 10; i++ {
		w.do()
	}
	if ran {
		t.Fatal("handler ran without a task set")
	}
}
