package bootstage_test

import (
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("/sbin overlay rebuild", func() {
	It("unlinks the real binaries, mounts tmpfs, writes the wrapper and relinks old entries to a scratch dir outside /sbin", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.SbinDir + "/magisk":     "magisk binary bytes",
			constants.SbinDir + "/magiskinit": "init binary bytes",
			constants.SbinDir + "/otherbin":   "third party binary",
			constants.SbinMirror + "/.keep":   "",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		copier := &fakeCopier{}
		mounter := &tmpfsHidingMounter{fs: fs}
		labels := newFakeLabeler()
		ctrl := &bootstage.Controller{Fsys: fs, Copier: copier, Mounter: mounter, Labels: labels}

		Expect(ctrl.RebuildSbinOverlay()).To(Succeed())

		Expect(copier.copies).To(HaveLen(1))
		Expect(copier.copies[0].src).To(Equal(constants.SbinDir))

		Expect(mounter.tmpfs).To(ConsistOf(constants.SbinDir))

		for _, applet := range bootstage.AppletNames {
			target, err := fs.Readlink(filepath.Join(constants.SbinDir, applet))
			Expect(err).ToNot(HaveOccurred())
			Expect(target).To(Equal(filepath.Join(constants.SbinDir, "magisk")))
		}

		content, err := fs.ReadFile(constants.MainBinary)
		Expect(err).ToNot(HaveOccurred())
		Expect(content).To(Equal([]byte("magisk binary bytes")))

		wrapper, err := fs.ReadFile(filepath.Join(constants.SbinDir, "magisk"))
		Expect(err).ToNot(HaveOccurred())
		Expect(string(wrapper)).To(ContainSubstring(constants.MainBinary))

		initContent, err := fs.ReadFile(constants.InitApplet)
		Expect(err).ToNot(HaveOccurred())
		Expect(initContent).To(Equal([]byte("init binary bytes")))

		relinked, err := fs.Readlink(filepath.Join(constants.SbinDir, "otherbin"))
		Expect(err).ToNot(HaveOccurred())
		Expect(relinked).To(ContainSubstring(constants.SbinMirror))
		// The scratch mirror must live outside /sbin: the tmpfs mount above
		// replaces /sbin wholesale, so a scratch dir nested under it would
		// resolve into the new, empty tmpfs instead of the preserved files.
		Expect(strings.HasPrefix(relinked, constants.SbinDir+"/")).To(BeFalse())

		Expect(labels.labels[constants.SbinDir]).To(Equal("u:object_r:rootfs:s0"))
	})
})

// tmpfsHidingMounter stands in for a real tmpfs mount: a fresh tmpfs hides
// everything that was under the target, so MountTmpfs empties the target
// directory on the fake filesystem before recording the call.
type tmpfsHidingMounter struct {
	fakeMounter
	fs vfs.FS
}

func (m *tmpfsHidingMounter) MountTmpfs(target string) error {
	entries, err := m.fs.ReadDir(target)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.fs.RemoveAll(filepath.Join(target, e.Name())); err != nil {
			return err
		}
	}
	return m.fakeMounter.MountTmpfs(target)
}
