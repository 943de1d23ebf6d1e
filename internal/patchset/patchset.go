// Package patchset holds the concrete named patches the CLI applies to a
// dyld shared cache (spec §4.H). Each patch resolves one or more images
// through a dsc.Analyser and queues instruction or data writes through an
// arm64asm.Assembler / journal.Queue. A patch that cannot find its target
// image at all fails hard; only specific, version-dependent symbol or
// instruction lookups inside a patch degrade to a logged warning.
package patchset

import (
	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/blacktop/inferno/pkg/arm64asm"
	"github.com/blacktop/inferno/pkg/dsc"
	"github.com/blacktop/inferno/pkg/journal"
)

// Func applies one named patch against an already-open analyser, queuing
// its writes on asm/queue. queue is only used directly by patches that
// write raw data rather than instructions.
type Func func(an *dsc.Analyser, asm *arm64asm.Assembler, queue *journal.Queue) error

// NamedPatch pairs a patch with its driver-facing name and activation gate.
type NamedPatch struct {
	Name             string
	Apply            Func
	RequiresUnredact bool
}

// All returns every patch this driver knows, in application order.
func All() []NamedPatch {
	return []NamedPatch{
		{Name: "CoreImage", Apply: CoreImage},
		{Name: "QuartzCore", Apply: QuartzCore},
		{Name: "SpringBoardFoundation", Apply: SpringBoardFoundation},
		{Name: "CMCapture", Apply: CMCapture},
		{Name: "libTelephonyUtilDynamic", Apply: LibTelephonyUtilDynamic},
		{Name: "NeutrinoCore", Apply: NeutrinoCore},
		{Name: "libsystem_trace", Apply: LibSystemTrace, RequiresUnredact: true},
	}
}

// isSoftMiss reports whether err is a symbol/instruction lookup failure
// that a patch is allowed to shrug off as "not present on this OS version".
func isSoftMiss(err error) bool {
	return errors.Is(err, ierrors.OutOfRange)
}

// CoreImage forces software rendering: _CIGLIsUsable always returns
// false, with two best-effort supplemental patches for iOS 16+.
func CoreImage(an *dsc.Analyser, asm *arm64asm.Assembler, _ *journal.Queue) error {
	img, err := an.FindImage(dsc.PublicFrameworkMatch("CoreImage"), false)
	if err != nil {
		return err
	}

	glIsUsable, err := img.ResolveSym("_CIGLIsUsable")
	if err != nil {
		return err
	}
	if err := asm.WriteMOVZIncr(img.Path, img.Header, &glIsUsable, arm64asm.R0, false, 0, arm64asm.MOVZShift0); err != nil {
		return err
	}
	if err := asm.WriteRET(img.Path, img.Header, glIsUsable); err != nil {
		return err
	}

	if addr, err := img.ResolveSym("___isWidget_block_invoke"); err != nil {
		if !isSoftMiss(err) {
			return err
		}
		log.Warnf("%s (normal for iOS <=16)", err)
	} else if err := asm.WriteRET(img.Path, img.Header, addr); err != nil {
		return err
	}

	allowListAddr, err := img.ResolveSym("____ZL13isSWAllowListv_block_invoke")
	if err != nil {
		if !isSoftMiss(err) {
			return err
		}
		log.Warnf("%s (normal for iOS <=16)", err)
		return nil
	}

	firstCBZ, err := arm64asm.FindCBZ(img.Path, img.Header, allowListAddr, true, false, 8)
	if err != nil {
		if !isSoftMiss(err) {
			return err
		}
		log.Warnf("%s (normal for iOS <=16)", err)
		return nil
	}
	if err := asm.WriteNOPIncr(img.Path, img.Header, &firstCBZ); err != nil {
		return err
	}
	secondCBZ, err := arm64asm.FindCBZ(img.Path, img.Header, firstCBZ, false, false, 8)
	if err != nil {
		if !isSoftMiss(err) {
			return err
		}
		log.Warnf("%s (normal for iOS <=16)", err)
		return nil
	}
	return asm.WriteNOP(img.Path, img.Header, secondCBZ)
}

func fixAsyncDispatcher(img *dsc.Image, asm *arm64asm.Assembler, renderer uint64, sym string) error {
	symAddr, err := img.ResolveSym(sym)
	if err != nil {
		return err
	}
	rendererCall, err := arm64asm.FindBLIncr(img.Path, img.Header, symAddr, &renderer, false, arm64asm.DefaultInstLimit)
	if err != nil {
		return err
	}

	if _, err := arm64asm.FindCBZ(img.Path, img.Header, rendererCall, true, false, 1); err == nil {
		log.Infof("detected fixed CA::OGL::AsynchronousDispatcher logic, skipping `%s`", sym)
		return nil
	} else if !isSoftMiss(err) {
		return err
	}

	addr := rendererCall
	if err := asm.WriteNOPIncr(img.Path, img.Header, &addr); err != nil {
		return err
	}
	if err := asm.WriteNOPIncr(img.Path, img.Header, &addr); err != nil {
		return err
	}
	if err := asm.WriteNOPIncr(img.Path, img.Header, &addr); err != nil {
		return err
	}
	blraAddr, err := arm64asm.FindBLRA(img.Path, img.Header, addr, true, false, false, 4)
	if err != nil {
		return err
	}
	return asm.WriteNOP(img.Path, img.Header, blraAddr)
}

// QuartzCore fixes a missing null-check crash in two AsynchronousDispatcher
// methods (iOS <=14) and neutralises CIF10 support, which also disables
// framebuffer AGX/SGX compression.
func QuartzCore(an *dsc.Analyser, asm *arm64asm.Assembler, _ *journal.Queue) error {
	img, err := an.FindImage(dsc.PublicFrameworkMatch("QuartzCore"), false)
	if err != nil {
		return err
	}

	renderer, err := img.ResolveSym("__ZN2CA3OGL22AsynchronousDispatcher8rendererEv")
	if err != nil {
		return err
	}
	if err := fixAsyncDispatcher(img, asm, renderer, "__ZN2CA3OGL22AsynchronousDispatcher10stop_timerEv"); err != nil {
		return err
	}
	if err := fixAsyncDispatcher(img, asm, renderer, "__ZN2CA3OGLL17release_iosurfaceEP11__IOSurface"); err != nil {
		return err
	}

	cif10, err := img.ResolveSym("___CADeviceSupportsCIF10_block_invoke")
	if err != nil {
		return err
	}
	return asm.WriteRET(img.Path, img.Header, cif10)
}

// SpringBoardFoundation forces +[SBFCARenderer shouldUseXPCServiceForRendering]
// to return true, fixing a wallpaper-settings crash on GPU-less hardware.
func SpringBoardFoundation(an *dsc.Analyser, asm *arm64asm.Assembler, _ *journal.Queue) error {
	img, err := an.FindImage(dsc.PrivateFrameworkMatch("SpringBoardFoundation"), false)
	if err != nil {
		return err
	}
	addr, err := img.ResolveSym("+[SBFCARenderer shouldUseXPCServiceForRendering]")
	if err != nil {
		return err
	}
	if err := asm.WriteMOVZIncr(img.Path, img.Header, &addr, arm64asm.R0, false, 1, arm64asm.MOVZShift0); err != nil {
		return err
	}
	return asm.WriteRET(img.Path, img.Header, addr)
}

// CMCapture neutralises shader precompilation, which requires a GPU.
func CMCapture(an *dsc.Analyser, asm *arm64asm.Assembler, _ *journal.Queue) error {
	img, err := an.FindImage(dsc.PrivateFrameworkMatch("CMCapture"), false)
	if err != nil {
		return err
	}

	preload, err := img.ResolveSym("_FigPreloadShaders", "_FigCapturePreloadShaders")
	if err != nil {
		if !isSoftMiss(err) {
			return err
		}
		log.Warnf("%s (normal for iOS <=14)", err)
		return nil
	}
	if err := asm.WriteRET(img.Path, img.Header, preload); err != nil {
		return err
	}

	wait, err := img.ResolveSym("_FigWaitForPreloadShadersCompletion", "_FigCaptureWaitForPreloadShadersCompletion")
	if err != nil {
		if !isSoftMiss(err) {
			return err
		}
		log.Warnf("%s (normal for iOS <=14)", err)
		return nil
	}
	return asm.WriteRET(img.Path, img.Header, wait)
}

// LibTelephonyUtilDynamic neutralises hardcoded Baseband expectations.
func LibTelephonyUtilDynamic(an *dsc.Analyser, asm *arm64asm.Assembler, queue *journal.Queue) error {
	img, err := an.FindImage(dsc.ExactMatch("/usr/lib/libTelephonyUtilDynamic.dylib"), false)
	if err != nil {
		return err
	}

	determineRadio, err := img.ResolveSym("__TelephonyRadiosDetermineRadio")
	if err != nil {
		return err
	}
	if err := asm.WriteRET(img.Path, img.Header, determineRadio); err != nil {
		return err
	}

	zero := []byte{0, 0, 0, 0}
	for _, sym := range []string{"_sTelephonyProduct", "_sTelephonyRadio", "_sTelephonyRadioVendor"} {
		addr, err := img.ResolveSym(sym)
		if err != nil {
			return err
		}
		off, entry, err := an.FindEntryFromVMAddr(addr)
		if err != nil {
			return err
		}
		queue.QueueWrite(entry.Path, int64(off), zero)
	}
	return nil
}

// NeutrinoCore replaces the constructor of NUDevice_iOS's renderer with a
// direct alloc/init of NUSoftwareRenderer.
func NeutrinoCore(an *dsc.Analyser, asm *arm64asm.Assembler, _ *journal.Queue) error {
	objcImg, err := an.FindImage(dsc.ExactMatch("/usr/lib/libobjc.A.dylib"), false)
	if err != nil {
		return err
	}
	img, err := an.FindImage(dsc.PrivateFrameworkMatch("NeutrinoCore"), true)
	if err != nil {
		return err
	}

	allocInit, err := objcImg.ResolveSym("_objc_alloc_init")
	if err != nil {
		return err
	}
	swRenderer, err := img.ResolveObjCClass("NUSoftwareRenderer")
	if err != nil {
		return err
	}
	addr, err := img.ResolveSym(
		"-[NUDevice_iOS _newRendererWithCIContextOptions:error:]",
		"-[NUDevice_iOS _newRendererWithOptions:error:]",
	)
	if err != nil {
		return err
	}

	if err := asm.WriteADRPAddIncr(img.Path, img.Header, &addr, swRenderer, arm64asm.R0); err != nil {
		return err
	}
	if err := asm.WriteADRPAddIncr(img.Path, img.Header, &addr, allocInit, arm64asm.R1); err != nil {
		return err
	}
	return asm.WriteBLR(img.Path, img.Header, addr, arm64asm.R1)
}

// LibSystemTrace forces __os_trace_is_development_build to return true,
// unredacting system log messages. Gated behind --unredact-logs.
func LibSystemTrace(an *dsc.Analyser, asm *arm64asm.Assembler, _ *journal.Queue) error {
	img, err := an.FindImage(dsc.ExactMatch("/usr/lib/system/libsystem_trace.dylib"), false)
	if err != nil {
		return err
	}
	addr, err := img.ResolveSym("__os_trace_is_development_build")
	if err != nil {
		return err
	}
	if err := asm.WriteMOVZIncr(img.Path, img.Header, &addr, arm64asm.R0, false, 1, arm64asm.MOVZShift0); err != nil {
		return err
	}
	return asm.WriteRET(img.Path, img.Header, addr)
}
