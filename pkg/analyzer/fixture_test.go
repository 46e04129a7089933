package analyzer

import (
	"github.com/objcflow/objcflow/pkg/disass"
	"github.com/objcflow/objcflow/pkg/loader"
)

const (
	delegateImp      = 0x100006420
	sharedImp        = 0x100006490
	anonFunc         = 0x100006600
	test1Func        = 0x100006700
	categoryImp      = 0x100006800
	msgSendStub      = 0x1000067a8
	releaseStub      = 0x1000067c0
	retainStub       = 0x1000067cc
	retainARStub     = 0x1000067d8
	secTrustStub     = 0x100006760
	msgSendSlot      = 0x10000c010
	initObjcStub     = 0x1000068f0
	trustObjcStub    = 0x100006900
	serverTrustRef   = 0x1000090c0
	defaultHandleRef = 0x1000090c8
	urlSessionRef    = 0x1000090d0

	urlSessionSel = "URLSession:didReceiveChallenge:completionHandler:"
)

// delegateCode is modelled on a URLSession delegate method: retain, a
// msgSend through a stub, a C call, a msgSend through a GOT slot, an
// unresolvable dispatch, local calls and a local branch.
func delegateCode() []disass.Instruction {
	return []disass.Instruction{
		disass.Other(0x100006420, "stp", disass.SP),                      // 0
		disass.Other(0x100006424, "mov", disass.FP),                      // 1
		disass.Other(0x100006428, "mov", disass.X19),                     // 2
		disass.PageLoad(0x10000642c, disass.X8, 0x100009000),             // 3
		disass.LoadImm(0x100006430, disass.X8, disass.X8, 0x60),          // 4
		disass.Other(0x100006434, "mov", disass.X0),                      // 5
		disass.Call(0x100006438, retainStub),                             // 6
		disass.PageLoad(0x10000643c, disass.X1, 0x100009000),             // 7
		disass.LoadImm(0x100006440, disass.X1, disass.X1, 0xc0),          // 8
		disass.Call(0x100006444, msgSendStub),                            // 9
		disass.CompareBranch(0x100006448, "cbz", disass.X0, 0x100006470), // 10
		disass.Call(0x10000644c, secTrustStub),                           // 11
		disass.PageLoad(0x100006450, disass.X1, 0x100009000),             // 12
		disass.LoadImm(0x100006454, disass.X1, disass.X1, 0xc8),          // 13
		disass.PageLoad(0x100006458, disass.X16, 0x10000c000),            // 14
		disass.LoadImm(0x10000645c, disass.X16, disass.X16, 0x10),        // 15
		disass.CallReg(0x100006460, disass.X16),                          // 16
		disass.Other(0x100006464, "mov", disass.X9),                      // 17
		disass.CallReg(0x100006468, disass.X9),                           // 18
		disass.Call(0x10000646c, anonFunc),                               // 19
		disass.Call(0x100006470, test1Func),                              // 20
		disass.Call(0x100006474, releaseStub),                            // 21
		disass.Branch(0x100006478, 0x100006488),                          // 22
		disass.Other(0x10000647c, "nop"),                                 // 23
		disass.Other(0x100006480, "nop"),                                 // 24
		disass.Other(0x100006484, "nop"),                                 // 25
		disass.Other(0x100006488, "ldp", disass.FP, disass.LR),           // 26
		disass.Return(0x10000648c),                                       // 27
	}
}

func fixtureCode() []disass.Instruction {
	code := delegateCode()
	code = append(code,
		// +[TrustDelegate sharedInstance]
		disass.PageLoad(0x100006490, disass.X0, 0x102a41000),
		disass.AddImm(0x100006494, disass.X0, disass.X0, 0x458),
		disass.Call(0x100006498, retainARStub),
		disass.Return(0x10000649c),
		// only reachable through a direct call
		disass.Other(0x100006600, "mov", disass.X0),
		disass.Return(0x100006604),
		// __Z5test1v
		disass.Return(0x100006700),
		// -[TrustDelegate(Extras) URLSession:didReceiveChallenge:completionHandler:]
		disass.Call(0x100006800, initObjcStub),
		disass.Call(0x100006804, trustObjcStub),
		disass.Return(0x100006808),
	)
	return code
}

func newFixture() *loader.Memory {
	return &loader.Memory{
		Name:   "TrustTarget",
		Code:   fixtureCode(),
		Starts: []uint64{delegateImp, sharedImp},
		Syms: []loader.Symbol{
			{Name: "__Z5test1v", Address: test1Func},
		},
		Imported: []loader.Import{
			{Name: "_SecTrustEvaluate", Address: secTrustStub, Kind: loader.ImportStub},
			{Name: "_objc_msgSend", Address: msgSendStub, Kind: loader.ImportStub},
			{Name: "_objc_release", Address: releaseStub, Kind: loader.ImportStub},
			{Name: "_objc_retain", Address: retainStub, Kind: loader.ImportStub},
			{Name: "_objc_retainAutoreleasedReturnValue", Address: retainARStub, Kind: loader.ImportStub},
			{Name: "_objc_msgSend", Address: msgSendSlot, Kind: loader.ImportSlot},
		},
		SelRefs: []loader.Selref{
			{Address: serverTrustRef, Target: 0x100007000, Name: "serverTrust"},
			{Address: defaultHandleRef, Target: 0x100007010, Name: "performDefaultHandling"},
			{Address: urlSessionRef, Target: 0x100007030, Name: urlSessionSel},
		},
		SelStubs: []loader.ObjcStub{
			{Address: initObjcStub, Selref: 0x1000090d8, Name: "_objc_msgSend$init"},
			{Address: trustObjcStub, Selref: serverTrustRef, Name: "_objc_msgSend$serverTrust"},
		},
		Classes: []loader.ObjcClass{
			{
				Name:            "TrustDelegate",
				SuperClass:      "NSObject",
				Address:         0x10000a000,
				InstanceMethods: []loader.ObjcMethod{{Name: urlSessionSel, Imp: delegateImp}},
				ClassMethods:    []loader.ObjcMethod{{Name: "sharedInstance", Imp: sharedImp}},
			},
			{
				Name:            "OtherDelegate",
				SuperClass:      "NSObject",
				Address:         0x10000a100,
				InstanceMethods: []loader.ObjcMethod{{Name: urlSessionSel, Imp: delegateImp}},
			},
		},
		Categories: []loader.ObjcCategory{
			{
				Name:            "Extras",
				Class:           "TrustDelegate",
				Address:         0x10000a200,
				InstanceMethods: []loader.ObjcMethod{{Name: urlSessionSel, Imp: categoryImp}},
			},
		},
		Protocols: []loader.ObjcProtocol{
			{
				Name:            "NSURLSessionDelegate",
				Address:         0x10000a300,
				Protocols:       []string{"NSObject"},
				InstanceMethods: []loader.ObjcMethod{{Name: urlSessionSel}},
			},
		},
		Extra: []loader.Section{
			{Segment: "__DATA", Name: "__objc_selrefs", Addr: 0x100009000, Size: 0x100},
		},
	}
}

// singleFunction builds a binary with one symbolized function at 0x1000.
func singleFunction(exported, local string) *loader.Memory {
	m := &loader.Memory{
		Code: []disass.Instruction{
			disass.Other(0x1000, "mov", disass.X0),
			disass.Return(0x1004),
		},
		Starts: []uint64{0x1000},
	}
	if exported != "" {
		m.Exported = []loader.Symbol{{Name: exported, Address: 0x1000, External: true}}
	}
	if local != "" {
		m.Syms = []loader.Symbol{{Name: local, Address: 0x1000}}
	}
	return m
}
