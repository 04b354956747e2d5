package kern_test

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kernvm/errno"
	"github.com/vkngwrapper/kernvm/kern"
	"github.com/vkngwrapper/kernvm/kern/mocks"
	"github.com/vkngwrapper/kernvm/thread"
	"github.com/vkngwrapper/kernvm/vm"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

// writeArgv lays out path and args in the data region the way a user program would before
// calling execv, and returns the addresses of the path and of the argv array
func writeArgv(t *thread.Thread, path string, args []string) (uint32, uint32) {
	as := t.Process().AddressSpace()

	pathPtr := dataBase + 0x100
	if _, err := as.CopyOutStr(pathPtr, path); err != nil {
		panic(err)
	}

	argvPtr := dataBase + 0x800
	strPtr := dataBase + 0x200
	for i, arg := range args {
		if _, err := as.CopyOutStr(strPtr, arg); err != nil {
			panic(err)
		}
		if err := as.CopyOut(argvPtr+uint32(4*i), []byte{byte(strPtr >> 24), byte(strPtr >> 16), byte(strPtr >> 8), byte(strPtr)}); err != nil {
			panic(err)
		}
		strPtr += uint32(len(arg) + 1)
	}
	if err := as.CopyOut(argvPtr+uint32(4*len(args)), make([]byte, 4)); err != nil {
		panic(err)
	}

	return pathPtr, argvPtr
}

func readUserString(k *kern.Kernel, t *thread.Thread, uaddr uint32) string {
	var str []byte
	for {
		c := k.LoadByte(t, uaddr)
		if c == 0 {
			return string(str)
		}
		str = append(str, c)
		uaddr++
	}
}

func TestExecvBuildsArgv(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := readyKernel(t, ctrl, KernelSetup{})
	k := f.kernel

	var args []string
	var argvTerminator uint32
	var oldSpace, newSpace *vm.AddressSpace
	var pidBefore, pidAfter int

	f.expectImage(ctrl, "/testbin/first")
	f.expectImage(ctrl, "/testbin/second")

	gomock.InOrder(
		f.user.EXPECT().EnterNewProcess(gomock.Any(), 1, uint32(0x7ffffff0), uint32(0x7ffffff0), entryAddr).Do(
			func(t *thread.Thread, argc int, argv, stackPtr, entry uint32) {
				pidBefore = int(f.getpid(t))
				oldSpace = t.Process().AddressSpace()

				pathPtr, argvPtr := writeArgv(t, "/testbin/second", []string{"prog", "hello"})
				err := k.SysExecv(t, pathPtr, argvPtr)
				panic(err)
			}),
		// "hello" and "prog" each take 8 bytes, then three pointers, then alignment
		f.user.EXPECT().EnterNewProcess(gomock.Any(), 2, uint32(0x7fffffe4), uint32(0x7fffffe0), entryAddr).Do(
			func(t *thread.Thread, argc int, argv, stackPtr, entry uint32) {
				pidAfter = int(f.getpid(t))
				newSpace = t.Process().AddressSpace()

				for i := 0; i < argc; i++ {
					args = append(args, readUserString(k, t, k.LoadWord(t, argv+uint32(4*i))))
				}
				argvTerminator = k.LoadWord(t, argv+uint32(4*argc))

				k.SysExit(t, 0)
			}),
	)

	_, err := k.RunProgram("/testbin/first", []string{"first"})
	require.NoError(t, err)
	f.finish(t)

	require.Equal(t, []string{"prog", "hello"}, args)
	require.Equal(t, uint32(0), argvTerminator)
	require.Equal(t, pidBefore, pidAfter)
	require.NotSame(t, oldSpace, newSpace)
}

type execFailures struct {
	badPath     error
	longPath    error
	openFailure error
	loadFailure error
	noImage     error
	sameSpace   bool
	dataIntact  bool
	framesSame  bool
}

func TestExecvFailuresKeepOldImage(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := readyKernel(t, ctrl, KernelSetup{})
	k := f.kernel

	var result execFailures
	f.expectImage(ctrl, "/testbin/survivor")

	f.fs.EXPECT().Open("/testbin/missing").Return(nil, errors.New("no such file"))

	badImage := mocks.NewMockImage(ctrl)
	badImage.EXPECT().Close().Return(nil)
	f.fs.EXPECT().Open("/testbin/garbage").Return(badImage, nil)
	f.loader.EXPECT().Load(badImage, gomock.Any()).DoAndReturn(func(image kern.Image, as *vm.AddressSpace) (uint32, error) {
		if err := as.DefineRegion(textBase, 3*0x1000, vm.PermRead); err != nil {
			return 0, err
		}
		if err := as.PrepareLoad(); err != nil {
			return 0, err
		}
		return 0, errors.New("bad magic")
	})

	f.user.EXPECT().EnterNewProcess(gomock.Any(), 1, gomock.Any(), gomock.Any(), entryAddr).Do(
		func(t *thread.Thread, argc int, argv, stackPtr, entry uint32) {
			as := t.Process().AddressSpace()
			k.StoreWord(t, dataBase, 0xfeedface)
			frames := f.allocatedFrames()

			result.badPath = k.SysExecv(t, 0x3ff000, dataBase+0x800)

			if err := as.CopyOut(dataBase+0x1000, bytes.Repeat([]byte("a"), kern.PathMax+10)); err != nil {
				panic(err)
			}
			result.longPath = k.SysExecv(t, dataBase+0x1000, dataBase+0x800)

			pathPtr, argvPtr := writeArgv(t, "/testbin/missing", []string{"missing"})
			result.openFailure = k.SysExecv(t, pathPtr, argvPtr)

			pathPtr, argvPtr = writeArgv(t, "/testbin/garbage", []string{"garbage"})
			result.loadFailure = k.SysExecv(t, pathPtr, argvPtr)

			result.noImage = k.SysExecv(t, pathPtr, 0x3ff000)

			result.sameSpace = t.Process().AddressSpace() == as
			result.dataIntact = k.LoadWord(t, dataBase) == 0xfeedface
			result.framesSame = f.allocatedFrames() == frames

			k.SysExit(t, 0)
		})

	_, err := k.RunProgram("/testbin/survivor", []string{"survivor"})
	require.NoError(t, err)
	f.finish(t)

	require.Equal(t, errno.EFAULT, errno.Of(result.badPath))
	require.Equal(t, errno.ENAMETOOLONG, errno.Of(result.longPath))
	require.Equal(t, errno.EACCES, errno.Of(result.openFailure))
	require.Equal(t, errno.ENOEXEC, errno.Of(result.loadFailure))
	require.Equal(t, errno.EFAULT, errno.Of(result.noImage))
	require.True(t, result.sameSpace)
	require.True(t, result.dataIntact)
	require.True(t, result.framesSame)
}

func TestRunProgramFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	f := readyKernel(t, ctrl, KernelSetup{})

	f.fs.EXPECT().Open("/testbin/absent").Return(nil, errno.New(errno.EACCES, "not found"))

	_, err := f.kernel.RunProgram("/testbin/absent", nil)
	require.NoError(t, err)
	f.finish(t)
	require.Equal(t, 1, f.procs.DestroyedCount())

	_, err = f.kernel.RunProgram("/testbin/huge", []string{string(bytes.Repeat([]byte("x"), kern.ArgMax))})
	require.True(t, errors.Is(err, kern.ErrArgsTooLong))
	require.Equal(t, errno.E2BIG, errno.Of(err))
}

func TestImageCloseFailureIsLogged(t *testing.T) {
	ctrl := gomock.NewController(t)
	var logs bytes.Buffer
	f := readyKernel(t, ctrl, KernelSetup{
		Logger: slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	k := f.kernel

	image := mocks.NewMockImage(ctrl)
	image.EXPECT().Close().Return(errors.New("stale handle"))
	f.fs.EXPECT().Open("/testbin/leaky").Return(image, nil)
	f.loader.EXPECT().Load(image, gomock.Any()).DoAndReturn(loadTestImage)

	var entered bool
	f.user.EXPECT().EnterNewProcess(gomock.Any(), 1, gomock.Any(), gomock.Any(), entryAddr).Do(
		func(t *thread.Thread, argc int, argv, stackPtr, entry uint32) {
			entered = true
			k.SysExit(t, 0)
		})

	_, err := k.RunProgram("/testbin/leaky", []string{"leaky"})
	require.NoError(t, err)
	f.finish(t)

	require.True(t, entered)
	require.Contains(t, logs.String(), `"msg":"exec: closing image"`)
	require.Contains(t, logs.String(), `"path":"/testbin/leaky"`)
	require.Contains(t, logs.String(), "stale handle")
}
