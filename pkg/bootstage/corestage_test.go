package bootstage_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("core-only mode", func() {
	It("bind-mounts systemless hosts and starts the hide daemon when present", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.HostsFile: "127.0.0.1 localhost\n",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		mounter := &fakeMounter{}
		hide := &fakeHide{}
		ctrl := &bootstage.Controller{Fsys: fs, Mounter: mounter, Hide: hide, Props: newFakeProps(nil)}

		ctrl.CoreOnly()

		Expect(mounter.binds).To(ConsistOf(bindCall{constants.HostsFile, "/system/etc/hosts"}))
		Eventually(func() bool { return hide.started }).Should(BeTrue())
	})

	It("skips systemless hosts when no hosts file is present", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		mounter := &fakeMounter{}
		ctrl := &bootstage.Controller{Fsys: fs, Mounter: mounter, Props: newFakeProps(nil)}

		ctrl.CoreOnly()

		Expect(mounter.binds).To(BeEmpty())
	})

	It("does not start the hide daemon when persist.magisk.hide is 0", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		hide := &fakeHide{}
		ctrl := &bootstage.Controller{
			Fsys: fs, Mounter: &fakeMounter{}, Hide: hide,
			Props: newFakeProps(map[string]string{"persist.magisk.hide": "0"}),
		}

		ctrl.CoreOnly()

		Expect(hide.started).To(BeFalse())
	})
})
