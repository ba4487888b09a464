package results

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFailure_AlwaysInfinite(t *testing.T) {
	o := Failure(Outcome{Backend: "VITO", Job: "europe-ndvi", TimeToResultSeconds: 12.5}, "TIMEOUT", errors.New("deadline"))
	assert.False(t, o.DownloadSuccessful)
	assert.True(t, math.IsInf(o.TimeToResultSeconds, 1))
	assert.Equal(t, "TIMEOUT", o.ErrorCode)
	assert.Equal(t, "deadline", o.Error)
	assert.True(t, o.Failed())

	ok := Succeeded(o, 3.2)
	assert.True(t, ok.DownloadSuccessful)
	assert.Equal(t, 3.2, ok.TimeToResultSeconds)
	assert.Empty(t, ok.ErrorCode)
	assert.Empty(t, ok.Error)
}

func TestLog_ConcurrentAppend(t *testing.T) {
	l := NewLog()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				l.Append(Outcome{Backend: fmt.Sprintf("b%d", w), Job: fmt.Sprintf("job-%d", i%5)})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 400, l.Len())
	set := l.Finalize()
	assert.Equal(t, 400, set.Len())
	assert.Equal(t, []string{"job-0", "job-1", "job-2", "job-3", "job-4"}, set.JobIDs())
	assert.Len(t, set.ForJob("job-3"), 80)
}

func TestSet_DeduplicatesAcrossBackends(t *testing.T) {
	l := NewLog()
	for _, b := range []string{"VITO", "EODC", "EURAC"} {
		l.Append(Outcome{Backend: b, Job: "europe-ndvi-test"})
	}

	set := l.Finalize()
	assert.Equal(t, []string{"europe-ndvi-test"}, set.JobIDs())
	assert.Len(t, set.ForJob("europe-ndvi-test"), 3)
	assert.Nil(t, set.ForJob("missing"))
}

func TestSet_Immutable(t *testing.T) {
	l := NewLog()
	l.Append(Outcome{Backend: "a", Job: "j"})
	set := l.Finalize()

	l.Append(Outcome{Backend: "b", Job: "j"})
	assert.Equal(t, 1, set.Len())

	got := set.ForJob("j")
	got[0].Backend = "mutated"
	assert.Equal(t, "a", set.ForJob("j")[0].Backend)

	all := set.Outcomes()
	all[0].Job = "mutated"
	assert.Equal(t, "j", set.Outcomes()[0].Job)
}

func TestIterator(t *testing.T) {
	set := NewSet([]Outcome{
		{Backend: "a", Job: "west-2"},
		{Backend: "a", Job: "east-1"},
		{Backend: "b", Job: "west-2"},
	})

	it := set.Iterator()
	id, outs, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "east-1", id)
	assert.Len(t, outs, 1)

	id, outs, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, "west-2", id)
	assert.Len(t, outs, 2)

	_, _, ok = it.Next()
	assert.False(t, ok)
	_, _, ok = it.Next()
	assert.False(t, ok)

	other := set.Iterator()
	id, _, ok = other.Next()
	require.True(t, ok)
	assert.Equal(t, "east-1", id)

	it.Reset()
	id, _, ok = it.Next()
	require.True(t, ok)
	assert.Equal(t, "east-1", id)
}

func TestAll(t *testing.T) {
	set := NewSet([]Outcome{{Backend: "a", Job: "x"}, {Backend: "b", Job: "x"}, {Backend: "a", Job: "y"}})
	all := set.All()
	assert.Len(t, all, 2)
	assert.Len(t, all["x"], 2)
	assert.Len(t, all["y"], 1)

	empty := NewSet(nil)
	assert.Empty(t, empty.JobIDs())
	_, _, ok := empty.Iterator().Next()
	assert.False(t, ok)
}
