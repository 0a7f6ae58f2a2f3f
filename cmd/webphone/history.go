// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/arnaldorodrigues/webphone"
)

func printHistory(out io.Writer, records []webphone.CallRecord) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDIRECTION\tNUMBER\tDURATION\tOUTCOME")
	for _, r := range records {
		dur := "-"
		if !r.Timers.AnsweredAt.IsZero() && !r.Timers.HangupAt.IsZero() {
			dur = r.Timers.HangupAt.Sub(r.Timers.AnsweredAt).Truncate(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.Timers.CreatedAt.Local().Format(time.DateTime),
			r.Direction,
			r.RemoteNumber,
			dur,
			r.Outcome,
		)
	}
	return w.Flush()
}
