// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

// Stats returns statistics about the job queue.
type Stats struct {
	New        int `json:"new"`        // jobs waiting to be claimed
	Processing int `json:"processing"` // jobs currently claimed by workers
	Completed  int `json:"completed"`  // jobs that finished successfully
	Failed     int `json:"failed"`     // jobs whose last run failed
}
