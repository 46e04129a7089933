package disass

import (
	"regexp"

	"github.com/objcflow/objcflow/internal/colors"
)

// disassembly colors
var colorOp = colors.Bold().SprintfFunc()
var colorRegs = colors.BoldHiBlue().SprintFunc()
var colorImm = colors.BoldMagenta().SprintFunc()
var colorAddr = colors.BoldMagenta().SprintfFunc()
var colorComment = colors.FaintWhite().SprintFunc()
var colorLocation = colors.HiYellow().SprintfFunc()

var (
	immMatch = regexp.MustCompile(`#?-?0x[0-9a-z]+`)
	locMatch = regexp.MustCompile(`\sloc_[0-9a-z]+`)
	regMatch = regexp.MustCompile(`\W([wx][0-9]{1,2}|fp|sp|lr|xzr|wzr)`)
)

func ColorOperands(operands string) string {
	if len(operands) > 0 {
		operands = immMatch.ReplaceAllStringFunc(operands, func(s string) string {
			return colorImm(s)
		})
		operands = locMatch.ReplaceAllStringFunc(operands, func(s string) string {
			return colorLocation(s)
		})
		operands = regMatch.ReplaceAllStringFunc(operands, func(s string) string {
			return string(s[0]) + colorRegs(s[1:])
		})
	}
	return operands
}
