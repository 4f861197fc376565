package bootstage_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("post-fs-data", func() {
	It("acks, remounts read-only, preps the image and falls through to core-only with no modules", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.MountPoint + "/.core/.keep": "",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		mounter := &fakeMounter{}
		images := &fakeImages{loopDevice: "/dev/loop0"}
		exec := &fakeExec{}
		ctrl := &bootstage.Controller{
			Fsys: fs, Mounter: mounter, Images: images, Exec: exec, Props: newFakeProps(nil),
		}

		Expect(ctrl.PostFSData(context.Background(), conn)).To(Succeed())

		Expect(conn.Bytes()).To(Equal([]byte{0, 0, 0, 0}))
		Expect(mounter.remounts).To(ConsistOf(false))
		Expect(images.created).To(ConsistOf(constants.MainImage))
		Expect(images.mounted).To(ConsistOf(constants.MainImage))
		Expect(images.trimmed).To(ConsistOf(constants.MainImage))
	})

	It("falls back to core-only when image preparation fails", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		hide := &fakeHide{}
		images := &fakeImages{createErr: errFake}
		ctrl := &bootstage.Controller{
			Fsys: fs, Mounter: &fakeMounter{}, Images: images, Hide: hide, Props: newFakeProps(nil),
		}

		Expect(ctrl.PostFSData(context.Background(), conn)).To(Succeed())

		Expect(conn.Bytes()).To(Equal([]byte{0, 0, 0, 0}))
		Eventually(func() bool { return hide.started }).Should(BeTrue())
	})

	It("chmods and relabels the secure dir after preparing the image", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.MountPoint + "/.core/.keep": "",
			constants.SecureDir + "/.keep":        "",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		attr := newFakeAttr()
		labels := newFakeLabeler()
		images := &fakeImages{loopDevice: "/dev/loop0"}
		ctrl := &bootstage.Controller{
			Fsys: fs, Mounter: &fakeMounter{}, Images: images, Attr: attr, Labels: labels, Props: newFakeProps(nil),
		}

		Expect(ctrl.PostFSData(context.Background(), conn)).To(Succeed())

		Expect(attr.set[constants.SecureDir].Mode).To(Equal(uint32(0700)))
		Expect(labels.restorecon).To(ConsistOf(constants.SecureDir))
	})

	It("persists setupDone so a later, separately constructed Controller can observe it", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.MountPoint + "/.core/.keep": "",
			constants.SecureDir + "/.keep":        "",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		images := &fakeImages{loopDevice: "/dev/loop0"}
		first := &bootstage.Controller{
			Fsys: fs, Mounter: &fakeMounter{}, Images: images, Props: newFakeProps(nil),
		}
		Expect(first.PostFSData(context.Background(), &closableBuffer{})).To(Succeed())

		// second is a brand new Controller, the way main.go constructs one
		// per subcommand - it only ever sees first's setupDone through the
		// state file, never through shared memory.
		exec := &fakeExec{results: []int{0}}
		second := &bootstage.Controller{Fsys: fs, Exec: exec}
		Expect(second.LateStart(context.Background(), &closableBuffer{})).To(Succeed())
		Expect(exec.calls).To(BeEmpty())
	})
})
