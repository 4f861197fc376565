package bootstage_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/twpayne/go-vfs/v4"
	"github.com/twpayne/go-vfs/v4/vfst"

	"github.com/overlaycore/magicmount/internal/constants"
	"github.com/overlaycore/magicmount/pkg/bootstage"
)

var _ = Describe("late_start", func() {
	It("reboots and returns cleanly when setup did not complete", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{"/.keep": ""})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		exec := &fakeExec{results: []int{0}}
		ctrl := &bootstage.Controller{Fsys: fs, Exec: exec}

		Expect(ctrl.LateStart(context.Background(), conn)).To(Succeed())

		Expect(conn.Bytes()).To(Equal([]byte{0, 0, 0, 0}))
		Expect(exec.calls).To(HaveLen(1))
		Expect(exec.calls[0].argv).To(Equal([]string{"/system/bin/reboot"}))

		_, err = fs.Lstat(constants.SecureDir)
		Expect(err).ToNot(HaveOccurred())
	})

	It("renames and installs a bundled manager apk when present, skipping stub validation", func() {
		fs, cleanup, err := vfst.NewTestFS(map[string]interface{}{
			constants.ManagerAPK: "bundled apk bytes",
			constants.MountPoint + "/.core/.keep": "",
			constants.SecureDir + "/.keep":        "",
		})
		Expect(err).ToNot(HaveOccurred())
		defer cleanup()

		conn := &closableBuffer{}
		exec := &fakeExec{results: []int{0}}
		manager := &fakeManager{valid: false}
		markSetupDone(fs)

		ctrl := &bootstage.Controller{Fsys: fs, Exec: exec, Manager: manager}
		Expect(ctrl.LateStart(context.Background(), conn)).To(Succeed())

		Expect(exec.calls).To(HaveLen(1))
		Expect(exec.calls[0].argv).To(Equal([]string{"/system/bin/pm", "install", "-r", constants.ManagerApkDest}))
		// InstallManagerAPK deletes the apk once pm has installed it.
		_, err = fs.Lstat(constants.ManagerApkDest)
		Expect(err).To(HaveOccurred())
		_, err = fs.Lstat(constants.ManagerAPK)
		Expect(err).To(HaveOccurred())
	})
})

// markSetupDone drives one full post-fs-data graph run on its own, throwaway
// Controller - mirroring main.go, where post-fs-data and late_start are
// separate process invocations, never the same Controller - so that the only
// thing carrying setupDone across to the late_start Controller constructed
// afterwards is the persisted state file under fs.
func markSetupDone(fs vfs.FS) {
	ctrl := &bootstage.Controller{
		Fsys:    fs,
		Images:  &fakeImages{loopDevice: "/dev/loop0"},
		Mounter: &fakeMounter{},
		Props:   newFakeProps(nil),
	}
	_ = ctrl.PostFSData(context.Background(), &closableBuffer{})
}
