package csr

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/aubstream/memutils"
)

func (r *CommandStreamReceiver) Statistics() memutils.DetailedStatistics {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.statistics
}

// BuildStatsString writes the state of the receiver as a json object
func (r *CommandStreamReceiver) BuildStatsString(writer *jwriter.Writer) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("DeviceID").Int(int(r.DeviceID()))
	obj.Name("Family").String(r.family.Name())
	obj.Name("DispatchMode").String(r.DispatchMode().String())
	obj.Name("TaskCount").Int(int(r.taskCount))
	obj.Name("PendingSubmissions").Int(len(r.pending))
	obj.Name("ResidentAllocations").Int(len(r.residency))
	obj.Name("ExternalAllocations").Int(len(r.externalAllocations))
	obj.Name("GGTTPages").Int(r.ggtt.PageCount())
	obj.Name("PPGTTPages").Int(r.ppgtt.PageCount())

	stats := obj.Name("Statistics").Object()
	r.statistics.PrintJson(&stats)
	stats.End()
}
