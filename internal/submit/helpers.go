package submit

import (
	"fmt"
	"unsafe"
)

func responsePointer(p *uint32) unsafe.Pointer {
	return unsafe.Pointer(p)
}

func errUnexpectedDescriptor(id uint32) error {
	return fmt.Errorf("used ring named descriptor %d, only 0 is ever published", id)
}

func errUnexpectedResponse(resp uint32) error {
	return fmt.Errorf("response %#x, expected RESP_OK_NODATA", resp)
}
