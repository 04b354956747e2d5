package vm

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/kernvm/arch/mips"
	"github.com/vkngwrapper/kernvm/errno"
)

var ErrStringTooLong = errno.New(errno.ENAMETOOLONG, "string from user space is too long")

func userFault(err error, format string, args ...any) error {
	return errno.Mark(errors.Mark(errors.Wrapf(err, format, args...), ErrUserFault), errno.EFAULT)
}

func checkUserRange(uaddr uint32, length int) error {
	end := uint64(uaddr) + uint64(length)
	if end > uint64(mips.UserSpaceTop) {
		return errors.Wrapf(ErrUserFault, "[0x%x, 0x%x) leaves user space", uaddr, end)
	}
	return nil
}

// walk calls visit for each page-bounded piece of [uaddr, uaddr+length) with the physical
// address backing it
func (as *AddressSpace) walk(uaddr uint32, length int, write bool, visit func(paddr uint32, offset, count int)) error {
	if as == nil {
		return ErrNoAddressSpace
	}
	if err := checkUserRange(uaddr, length); err != nil {
		return err
	}

	for offset := 0; offset < length; {
		vaddr := uaddr + uint32(offset)
		count := int(mips.PageSize - vaddr&^mips.PageFrame)
		if count > length-offset {
			count = length - offset
		}

		paddr, writable, err := as.Translate(vaddr)
		if err != nil {
			return userFault(err, "user access at 0x%x", vaddr)
		}
		if write && !writable {
			return userFault(ErrReadOnly, "user write at 0x%x", vaddr)
		}

		visit(paddr, offset, count)
		offset += count
	}

	return nil
}

// CopyIn fills dst from user memory at uaddr. A failure matches ErrUserFault.
func (as *AddressSpace) CopyIn(dst []byte, uaddr uint32) error {
	return as.walk(uaddr, len(dst), false, func(paddr uint32, offset, count int) {
		copy(dst[offset:offset+count], as.system.ram.Bytes(paddr, uint32(count)))
	})
}

// CopyOut writes src to user memory at uaddr. Writing into a read-only page fails with an
// error matching both ErrUserFault and ErrReadOnly.
func (as *AddressSpace) CopyOut(uaddr uint32, src []byte) error {
	return as.walk(uaddr, len(src), true, func(paddr uint32, offset, count int) {
		copy(as.system.ram.Bytes(paddr, uint32(count)), src[offset:offset+count])
	})
}

// CheckWritable reports whether CopyOut to [uaddr, uaddr+length) would succeed, without
// writing anything
func (as *AddressSpace) CheckWritable(uaddr uint32, length int) error {
	return as.walk(uaddr, length, true, func(paddr uint32, offset, count int) {})
}

// CopyInStr reads a NUL-terminated string of at most maxLen bytes, terminator included, from
// user memory at uaddr. A string that does not terminate in time fails with ErrStringTooLong.
func (as *AddressSpace) CopyInStr(uaddr uint32, maxLen int) (string, error) {
	var result []byte

	for len(result) < maxLen {
		vaddr := uaddr + uint32(len(result))
		if vaddr < uaddr {
			return "", errors.Wrapf(ErrUserFault, "string at 0x%x wraps around", uaddr)
		}

		chunk := int(mips.PageSize - vaddr&^mips.PageFrame)
		if chunk > maxLen-len(result) {
			chunk = maxLen - len(result)
		}

		page := make([]byte, chunk)
		if err := as.CopyIn(page, vaddr); err != nil {
			return "", err
		}

		if nul := bytes.IndexByte(page, 0); nul >= 0 {
			return string(append(result, page[:nul]...)), nil
		}
		result = append(result, page...)
	}

	return "", errors.Wrapf(ErrStringTooLong, "no terminator in %d bytes at 0x%x", maxLen, uaddr)
}

// CopyOutStr writes str and its NUL terminator to user memory at uaddr and returns the
// number of bytes written
func (as *AddressSpace) CopyOutStr(uaddr uint32, str string) (int, error) {
	buffer := make([]byte, len(str)+1)
	copy(buffer, str)

	if err := as.CopyOut(uaddr, buffer); err != nil {
		return 0, err
	}
	return len(buffer), nil
}
