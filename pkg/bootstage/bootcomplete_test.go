package bootstage_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("boot_complete", func() {
	It("acks the client and clears the boot count file", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.BootCountFile: "2",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		ctrl := &bootstage.Controller{Fsys: fs}

		Expect(ctrl.BootComplete(context.Background(), conn)).To(Succeed())

		Expect(conn.Bytes()).To(Equal([]byte{0, 0, 0, 0}))
		Expect(conn.closed).To(BeTrue())
		_, err = fs.Lstat(constants.BootCountFile)
		Expect(err).To(HaveOccurred())
	})

	It("tolerates a missing boot count file", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		ctrl := &bootstage.Controller{Fsys: fs}

		Expect(ctrl.BootComplete(context.Background(), conn)).To(Succeed())
	})
})
