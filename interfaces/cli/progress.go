package cli

import (
	"github.com/schollz/progressbar/v3"
)

// progressFunc returns a done/total callback that draws a bar once the total
// is known. The bar is nil until the first call.
func progressFunc(description, unit string) (func(done, total int), func()) {
	var bar *progressbar.ProgressBar

	update := func(done, total int) {
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription(description),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString(unit),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		}
		bar.Set(done)
	}
	finish := func() {
		if bar != nil {
			bar.Finish()
		}
	}
	return update, finish
}
